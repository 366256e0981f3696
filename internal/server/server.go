// Package server exposes the read-along engine over HTTP.
//
// Routes:
//
//	GET  /                      service index
//	GET  /health, /healthz, /readyz
//	GET  /metrics               Prometheus scrape
//	GET  /ws/recognize          live reading over WebSocket
//	POST /api/generate-quiz     comprehension questions for a passage
//	GET  /api/sessions/{id}     stored reading result
//
// Every route is wrapped by CORS and [observe.Middleware].
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
	"github.com/MrWong99/readalong/internal/wordmatch"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

const (
	serviceName = "Kids Reading Recognition API"

	// maxMessageSize bounds a single WebSocket frame.
	maxMessageSize = 1 << 20

	// maxBodySize bounds JSON request bodies.
	maxBodySize = 1 << 20

	writeTimeout = 10 * time.Second
)

// ReadingDefaults are applied to every WebSocket session.
type ReadingDefaults struct {
	Language            string
	SegmentationSilence time.Duration
	InitialSilence      time.Duration
	InboxSize           int
}

// Config wires a [Server].
type Config struct {
	// STT opens recognition streams for WebSocket sessions. Required.
	STT stt.Provider

	// STTName labels metrics and logs.
	STTName string

	// Matcher scores spoken words. Required.
	Matcher *wordmatch.Matcher

	Reading ReadingDefaults

	// Quiz generates comprehension questions. When nil the quiz route
	// answers 503.
	Quiz *quiz.Generator

	QuizCount    int
	QuizAgeGroup string

	// Results stores completed readings. Optional.
	Results results.Store

	// Health serves the probe routes. Defaults to a handler without
	// readiness checks.
	Health *health.Handler

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	// AllowedOrigins lists origins accepted by CORS and the WebSocket origin
	// check. "*" allows any origin.
	AllowedOrigins []string

	Version string
	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Server serves the read-along API. It is safe for concurrent use.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	anyOrigin      bool
	originPatterns []string
	handler        http.Handler
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.STT == nil {
		return nil, errors.New("server: stt provider must not be nil")
	}
	if cfg.Matcher == nil {
		return nil, errors.New("server: matcher must not be nil")
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.QuizCount <= 0 {
		cfg.QuizCount = quiz.DefaultCount
	}
	if cfg.QuizAgeGroup == "" {
		cfg.QuizAgeGroup = quiz.DefaultAgeGroup
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:       cfg,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		anyOrigin: slices.Contains(cfg.AllowedOrigins, "*"),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.originPatterns = originHosts(cfg.AllowedOrigins)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	cfg.Health.Register(mux)
	mux.Handle("GET /metrics", cfg.MetricsHandler)
	mux.HandleFunc("GET /ws/recognize", s.handleRecognize)
	mux.HandleFunc("POST /api/generate-quiz", s.handleGenerateQuiz)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)

	s.handler = observe.Middleware(s.metrics)(s.cors(mux))
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

type indexResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Message: serviceName,
		Version: s.cfg.Version,
		Endpoints: map[string]string{
			"websocket": "/ws/recognize",
			"quiz":      "/api/generate-quiz",
			"sessions":  "/api/sessions/{id}",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

// ── CORS ─────────────────────────────────────────────────────────────────────

// cors answers preflight requests and decorates responses for allowed
// origins. Requests from other origins pass through undecorated so the
// browser enforces the policy.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.originAllowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
				h.Set("Access-Control-Allow-Headers", req)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return s.anyOrigin || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// originHosts converts configured origins to the host patterns the WebSocket
// handshake matches against.
func originHosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, o)
			continue
		}
		out = append(out, u.Host)
	}
	return out
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
