// Package recognition bridges one streaming speech recognizer and one
// read-along session.
//
// A [Coordinator] owns exactly one [stt.SessionHandle]. Raw PCM pushed with
// [Coordinator.PushAudio] is forwarded to the recognizer without blocking, and
// a single pump goroutine turns the recognizer's partial and final hypotheses
// into [TranscriptEvent] callbacks. Callbacks run on the pump goroutine, never
// on the caller's, so they must hand events off (for example by enqueueing
// onto a session inbox) instead of mutating shared state.
//
// A Coordinator is single use: Start it once, Stop it once (further Stop calls
// are no-ops), then discard it. A new reading epoch gets a new Coordinator.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// Segmentation defaults tuned for children's slower reading cadence.
const (
	DefaultSegmentationSilence = 650 * time.Millisecond
	DefaultInitialSilence      = 2000 * time.Millisecond

	// defaultKeywordBoost is the hint weight applied to passage words.
	defaultKeywordBoost = 1.5
)

var (
	// ErrStreamEnded is reported through OnError when the recognizer closes
	// the stream on its own without giving a reason.
	ErrStreamEnded = errors.New("recognition: stream ended unexpectedly")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("recognition: coordinator already started")
)

// Finality tells interim hypotheses from committed phrases.
type Finality int

const (
	// Partial is an interim hypothesis the recognizer may still revise.
	Partial Finality = iota
	// Final is a phrase the recognizer has committed to.
	Final
)

// String returns "partial" or "final".
func (f Finality) String() string {
	if f == Final {
		return "final"
	}
	return "partial"
}

// TranscriptEvent is one hypothesis delivered to the session.
type TranscriptEvent struct {
	Text     string
	Finality Finality

	// Confidence is the recognizer's own score, zero when not reported.
	Confidence float64
}

// Callbacks receive the coordinator's output. Any field may be nil.
type Callbacks struct {
	OnPartial func(TranscriptEvent)
	OnFinal   func(TranscriptEvent)

	// OnError is called at most once, when the stream ends without Stop
	// having been called. The coordinator has already stopped itself.
	OnError func(error)
}

// Config configures a [Coordinator].
type Config struct {
	// Provider opens the recognition stream. Required.
	Provider stt.Provider

	// ProviderName labels metrics and logs. Defaults to "stt".
	ProviderName string

	// SegmentationSilence is the trailing silence that finalizes a phrase.
	// Defaults to [DefaultSegmentationSilence] if zero.
	SegmentationSilence time.Duration

	// InitialSilence is how long the recognizer waits for speech to begin.
	// Defaults to [DefaultInitialSilence] if zero.
	InitialSilence time.Duration

	// Keywords are passage words passed to the recognizer as phrase hints.
	Keywords []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Coordinator wraps one streaming recognition session. All methods are safe
// for concurrent use.
type Coordinator struct {
	provider     stt.Provider
	providerName string
	segSilence   time.Duration
	initSilence  time.Duration
	keywords     []string
	log          *slog.Logger
	metrics      *observe.Metrics

	mu      sync.Mutex
	handle  stt.SessionHandle
	started bool

	// done is closed once the coordinator stops, by Stop or by the stream
	// ending on its own.
	done     chan struct{}
	stopOnce sync.Once

	// pumpDone is closed when the pump goroutine exits.
	pumpDone chan struct{}
}

// New creates a [Coordinator]. It returns an error when cfg.Provider is nil.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("recognition: provider must not be nil")
	}
	c := &Coordinator{
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		segSilence:   cfg.SegmentationSilence,
		initSilence:  cfg.InitialSilence,
		keywords:     cfg.Keywords,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		done:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}
	if c.providerName == "" {
		c.providerName = "stt"
	}
	if c.segSilence <= 0 {
		c.segSilence = DefaultSegmentationSilence
	}
	if c.initSilence <= 0 {
		c.initSilence = DefaultInitialSilence
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Start opens the recognition stream for languageTag and begins delivering
// hypotheses to cb. The audio format is fixed to 16 kHz mono 16-bit PCM.
func (c *Coordinator) Start(ctx context.Context, languageTag string, cb Callbacks) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "recognition.start")
	defer span.End()

	cfg := stt.StreamConfig{
		SampleRate:          audio.Speech.SampleRate,
		Channels:            audio.Speech.Channels,
		Language:            languageTag,
		SegmentationSilence: c.segSilence,
		InitialSilence:      c.initSilence,
		Keywords:            stt.KeywordsFromWords(c.keywords, defaultKeywordBoost),
	}

	begin := time.Now()
	handle, err := c.provider.StartStream(ctx, cfg)
	c.metrics.STTStartDuration.Record(ctx, time.Since(begin).Seconds())
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, c.providerName, "stt", "error")
		c.metrics.RecordProviderError(ctx, c.providerName, "stt")
		span.RecordError(err)
		c.stopOnce.Do(func() { close(c.done) })
		close(c.pumpDone)
		return fmt.Errorf("recognition: start stream: %w", err)
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "stt", "ok")

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
	if c.stopped() {
		// Stop raced with StartStream and saw no handle.
		_ = handle.Close()
	}

	c.log.Debug("recognition stream started",
		"provider", c.providerName,
		"language", languageTag,
		"keywords", len(cfg.Keywords),
	)

	go c.pump(context.WithoutCancel(ctx), handle, cb)
	return nil
}

// PushAudio forwards one PCM chunk to the recognizer. It never blocks on
// recognition and is a no-op before Start, after Stop or for empty chunks.
func (c *Coordinator) PushAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.SendAudio(chunk); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
		c.log.Debug("recognition: send audio", "provider", c.providerName, "err", err)
	}
}

// Stop closes the recognition stream and waits for the pump goroutine to
// exit. It is idempotent and safe to call concurrently with an in-flight
// callback, provided callbacks stop blocking once [Coordinator.Done] is
// closed. Stop must not be called from inside a callback.
func (c *Coordinator) Stop() {
	c.shutdown()
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.pumpDone
	}
}

// Done returns a channel that is closed once the coordinator has stopped.
// Callbacks that hand events to a possibly busy consumer should select on it
// so that Stop never waits on them.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// shutdown marks the coordinator stopped and closes the handle, once.
func (c *Coordinator) shutdown() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		h := c.handle
		c.mu.Unlock()
		if h != nil {
			if err := h.Close(); err != nil {
				c.log.Debug("recognition: close stream", "provider", c.providerName, "err", err)
			}
		}
	})
}

func (c *Coordinator) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// pump drains both transcript channels until the handle closes them.
func (c *Coordinator) pump(ctx context.Context, h stt.SessionHandle, cb Callbacks) {
	defer close(c.pumpDone)

	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.deliver(ctx, t, Partial, cb.OnPartial)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.deliver(ctx, t, Final, cb.OnFinal)
		}
	}

	if c.stopped() {
		return
	}

	err := h.Err()
	if err == nil {
		err = ErrStreamEnded
	}
	c.metrics.RecordProviderError(ctx, c.providerName, "stt")
	c.log.Warn("recognition stream ended", "provider", c.providerName, "err", err)
	if cb.OnError != nil {
		cb.OnError(err)
	}
	c.shutdown()
}

func (c *Coordinator) deliver(ctx context.Context, t stt.Transcript, f Finality, fn func(TranscriptEvent)) {
	if c.stopped() || fn == nil {
		return
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}
	c.metrics.RecordTranscript(ctx, f == Final)
	fn(TranscriptEvent{Text: text, Finality: f, Confidence: t.Confidence})
}
