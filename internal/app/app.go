// Package app wires the read-along subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the results store and
// builds the matcher, quiz generator and HTTP routes, Run serves until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithResultsStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
	resultsmem "github.com/MrWong99/readalong/internal/results/memory"
	resultspg "github.com/MrWong99/readalong/internal/results/postgres"
	resultssqlite "github.com/MrWong99/readalong/internal/results/sqlite"
	"github.com/MrWong99/readalong/internal/server"
	"github.com/MrWong99/readalong/internal/wordmatch"
	"github.com/MrWong99/readalong/pkg/provider/llm"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil LLM means quiz
// generation is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT     stt.Provider
	STTName string

	LLM     llm.Provider
	LLMName string

	// Checks are extra readiness probes, such as circuit breaker state.
	Checks []health.Checker
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	results results.Store
	matcher *wordmatch.Matcher
	quiz    *quiz.Generator
	server  *server.Server
	http    *http.Server

	// baseCtx parents every request context so that WebSocket handlers,
	// which http.Server.Shutdown does not track, end on shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithResultsStore injects a results store instead of opening one from
// config. The caller keeps ownership; Shutdown does not close it.
func WithResultsStore(s results.Store) Option {
	return func(a *App) { a.results = s }
}

// WithMetrics overrides the metrics sink (default observe.DefaultMetrics()).
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the version reported by the index route.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: stt provider must not be nil")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Results store ─────────────────────────────────────────────────
	if err := a.initResults(ctx); err != nil {
		return nil, fmt.Errorf("app: init results: %w", err)
	}

	// ── 2. Matcher ───────────────────────────────────────────────────────
	a.matcher = wordmatch.New(
		wordmatch.WithThreshold(cfg.Reading.MatchThreshold),
		wordmatch.WithVariants(cfg.Reading.Variants),
	)

	// ── 3. Quiz generator ────────────────────────────────────────────────
	if err := a.initQuiz(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init quiz: %w", err)
	}

	// ── 4. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initResults opens the configured results store or keeps an injected one.
func (a *App) initResults(ctx context.Context) error {
	if a.results != nil {
		return nil
	}

	rc := a.cfg.Results
	switch rc.Driver {
	case config.ResultsPostgres:
		store, err := resultspg.NewStore(ctx, rc.PostgresDSN)
		if err != nil {
			return err
		}
		a.results = store
	case config.ResultsSQLite:
		store, err := resultssqlite.Open(ctx, rc.SQLitePath)
		if err != nil {
			return err
		}
		if rc.Retention > 0 {
			n, err := store.Prune(ctx, time.Now().Add(-rc.Retention))
			if err != nil {
				_ = store.Close()
				return err
			}
			slog.Info("pruned old reading results", "count", n, "retention", rc.Retention)
		}
		a.results = store
	default:
		a.results = resultsmem.New()
	}
	a.closers = append(a.closers, a.results.Close)
	slog.Info("results store ready", "driver", rc.Driver)
	return nil
}

// initQuiz builds the quiz generator when a model is configured.
func (a *App) initQuiz() error {
	if a.providers.LLM == nil {
		slog.Warn("no quiz model configured; quiz generation disabled")
		return nil
	}
	qc := a.cfg.Quiz
	opts := []quiz.Option{
		quiz.WithProviderName(a.providers.LLMName),
		quiz.WithMaxTokens(qc.MaxTokens),
		quiz.WithMetrics(a.metrics),
	}
	if qc.Temperature > 0 {
		opts = append(opts, quiz.WithTemperature(qc.Temperature))
	}
	gen, err := quiz.New(a.providers.LLM, opts...)
	if err != nil {
		return err
	}
	a.quiz = gen
	return nil
}

// initServer assembles the routes and the http.Server.
func (a *App) initServer() error {
	checks := append([]health.Checker{health.Ping("results", a.results)}, a.providers.Checks...)

	srv, err := server.New(server.Config{
		STT:     a.providers.STT,
		STTName: a.providers.STTName,
		Matcher: a.matcher,
		Reading: server.ReadingDefaults{
			Language:            a.cfg.Reading.Language,
			SegmentationSilence: a.cfg.Reading.SegmentationSilence,
			InitialSilence:      a.cfg.Reading.InitialSilence,
			InboxSize:           a.cfg.Reading.InboxSize,
		},
		Quiz:           a.quiz,
		QuizCount:      a.cfg.Quiz.Count,
		QuizAgeGroup:   a.cfg.Quiz.AgeGroup,
		Results:        a.results,
		Health:         health.New(checks...),
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Version:        a.version,
		Logger:         slog.Default(),
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}
	a.server = srv

	a.baseCtx, a.cancelBase = context.WithCancel(context.Background())
	a.http = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}
	a.http.RegisterOnShutdown(a.cancelBase)
	return nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled
// or the listener fails. Call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.http.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or serving fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.http.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.http.Serve(ln)
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, ends open WebSocket sessions and
// runs the closers in order. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.http.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		a.cancelBase()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New opened before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
