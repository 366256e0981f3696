// Package reading implements the per-connection read-along session.
//
// A [Session] holds the passage being read, a cursor pointing at the next
// expected word and at most one [recognition.Coordinator]. Every input
// (control messages, audio, recognizer hypotheses and recognizer failures)
// goes through a single inbox consumed by [Session.Run], so session state is
// only ever touched by that one goroutine.
//
// Each "start" opens a new epoch. Hypotheses still in flight from an older
// coordinator carry the older epoch and are dropped, so a restart always
// begins from the first word.
package reading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/recognition"
	"github.com/MrWong99/readalong/internal/results"
	"github.com/MrWong99/readalong/internal/wordmatch"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

const (
	// DefaultLanguage is used when neither the start request nor the config
	// names one.
	DefaultLanguage = "en-US"

	// DefaultInboxSize bounds the number of queued inputs per session.
	DefaultInboxSize = 256

	readyMessage = "Ready to receive audio"
	saveTimeout  = 5 * time.Second
)

// ErrClosed is returned when input is offered to a session whose Run loop has
// exited.
var ErrClosed = errors.New("reading: session closed")

// State is the session's position in its lifecycle.
type State int

const (
	// Idle means no passage is loaded and no recognizer is running.
	Idle State = iota
	// Listening means a passage is loaded and the recognizer is running.
	Listening
	// Stopped means the last epoch ended. A new start begins another.
	Stopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Emitter delivers outbound events to the client. Emit is only called from
// the session's Run goroutine.
type Emitter interface {
	Emit(ctx context.Context, event any) error
}

// EmitterFunc adapts a function to [Emitter].
type EmitterFunc func(ctx context.Context, event any) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, event any) error { return f(ctx, event) }

// StartRequest loads a passage and starts listening.
type StartRequest struct {
	// Words is the passage, one entry per word. Entries are lower-cased and
	// trimmed; empty entries are dropped.
	Words []string

	// SessionID names the reading. A random id is generated when empty.
	SessionID string

	// Language overrides the configured recognition language.
	Language string
}

// Progress is a point-in-time snapshot of a session.
type Progress struct {
	State     State
	Cursor    int
	Total     int
	Epoch     uint64
	SessionID string
}

// Config configures a [Session].
type Config struct {
	// Provider opens recognition streams. Required.
	Provider stt.Provider

	// ProviderName labels metrics and logs.
	ProviderName string

	// Matcher scores spoken tokens. Required.
	Matcher *wordmatch.Matcher

	// Emitter receives outbound events. Required.
	Emitter Emitter

	// Language is the default recognition language. Defaults to
	// [DefaultLanguage].
	Language string

	// SegmentationSilence and InitialSilence tune the recognizer. Zero
	// values use the recognition package defaults.
	SegmentationSilence time.Duration
	InitialSilence      time.Duration

	// Results stores completed passages. Optional.
	Results results.Store

	// ConnectionID is recorded with stored results and in logs.
	ConnectionID string

	// InboxSize defaults to [DefaultInboxSize].
	InboxSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Option is a functional option for a [Session].
type Option func(*Session)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithIDGenerator replaces the random session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Session) { s.newID = gen }
}

// ── inbox messages ──────────────────────────────────────────────────────────

type input interface{ isInput() }

type startInput struct{ req StartRequest }

type stopInput struct{}

type audioInput struct{ chunk []byte }

type transcriptInput struct {
	epoch uint64
	event recognition.TranscriptEvent
}

type recognitionErrorInput struct {
	epoch uint64
	err   error
}

func (startInput) isInput()            {}
func (stopInput) isInput()             {}
func (audioInput) isInput()            {}
func (transcriptInput) isInput()       {}
func (recognitionErrorInput) isInput() {}

// Session is one reader's read-along state machine. Create it with [New],
// run [Session.Run] on its own goroutine and feed it with [Session.Start],
// [Session.Stop] and [Session.PushAudio].
type Session struct {
	provider     stt.Provider
	providerName string
	matcher      *wordmatch.Matcher
	emitter      Emitter
	language     string
	segSilence   time.Duration
	initSilence  time.Duration
	store        results.Store
	connID       string
	log          *slog.Logger
	metrics      *observe.Metrics
	now          func() time.Time
	newID        func() string

	inbox chan input
	done  chan struct{}

	// Owned by the Run goroutine.
	state      State
	words      []string
	recognized []string
	cursor     int
	epoch      uint64
	sessionID  string
	lang       string
	startedAt  time.Time
	milestone  int
	coord      *recognition.Coordinator
	epochLog   *slog.Logger

	mu       sync.Mutex
	snapshot Progress
}

// New validates cfg and returns an idle Session.
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Provider == nil {
		return nil, errors.New("reading: provider must not be nil")
	}
	if cfg.Matcher == nil {
		return nil, errors.New("reading: matcher must not be nil")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("reading: emitter must not be nil")
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		matcher:      cfg.Matcher,
		emitter:      cfg.Emitter,
		language:     cfg.Language,
		segSilence:   cfg.SegmentationSilence,
		initSilence:  cfg.InitialSilence,
		store:        cfg.Results,
		connID:       cfg.ConnectionID,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		now:          time.Now,
		newID:        uuid.NewString,
		inbox:        make(chan input, cfg.InboxSize),
		done:         make(chan struct{}),
	}
	if s.connID != "" {
		s.log = s.log.With("conn_id", s.connID)
	}
	s.epochLog = s.log
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ── enqueueing ──────────────────────────────────────────────────────────────

// Start asks the session to load req and begin listening. It blocks until
// the request is queued, ctx is done or the session has exited.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	return s.enqueue(ctx, startInput{req: req})
}

// Stop asks the session to stop listening.
func (s *Session) Stop(ctx context.Context) error {
	return s.enqueue(ctx, stopInput{})
}

// PushAudio queues one PCM chunk without blocking. It reports false when the
// chunk was dropped because the inbox is full or the session has exited.
func (s *Session) PushAudio(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- audioInput{chunk: chunk}:
		return true
	default:
		return false
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Progress returns a snapshot of the session's state. Safe to call from any
// goroutine.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Session) enqueue(ctx context.Context, in input) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- in:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── run loop ────────────────────────────────────────────────────────────────

// Run processes inputs until ctx is cancelled. On return any running
// recognizer has been released; no further events are emitted. Run must be
// called exactly once.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.endEpoch(ctx, Stopped)

	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-s.inbox:
			s.handle(ctx, in)
			s.publish()
		}
	}
}

func (s *Session) handle(ctx context.Context, in input) {
	switch in := in.(type) {
	case startInput:
		s.handleStart(ctx, in.req)
	case stopInput:
		s.handleStop(ctx)
	case audioInput:
		if s.state == Listening && s.coord != nil {
			s.coord.PushAudio(in.chunk)
		}
	case transcriptInput:
		if in.epoch == s.epoch && s.state == Listening {
			s.handleTranscript(ctx, in.event)
		}
	case recognitionErrorInput:
		if in.epoch == s.epoch && s.state == Listening {
			s.handleRecognitionError(ctx, in.err)
		}
	}
}

func (s *Session) handleStart(ctx context.Context, req StartRequest) {
	s.endEpoch(ctx, Idle)

	s.epoch++
	s.words = normalizeWords(req.Words)
	s.recognized = make([]string, len(s.words))
	s.cursor = 0
	s.milestone = 0
	s.sessionID = req.SessionID
	if s.sessionID == "" {
		s.sessionID = s.newID()
	}
	s.lang = req.Language
	if s.lang == "" {
		s.lang = s.language
	}
	s.startedAt = s.now()
	s.epochLog = s.log.With("session_id", s.sessionID, "epoch", s.epoch)

	if len(s.words) == 0 {
		s.emit(ctx, ErrorEvent{Type: EventError, Message: "expectedWords must contain at least one word"})
		return
	}

	coord, err := recognition.New(recognition.Config{
		Provider:            s.provider,
		ProviderName:        s.providerName,
		SegmentationSilence: s.segSilence,
		InitialSilence:      s.initSilence,
		Keywords:            s.words,
		Logger:              s.epochLog,
		Metrics:             s.metrics,
	})
	if err == nil {
		err = coord.Start(ctx, s.lang, s.callbacks(coord, s.epoch))
	}
	if err != nil {
		s.epochLog.Warn("reading: start rejected", "err", err)
		s.emit(ctx, ErrorEvent{
			Type:    EventError,
			Message: fmt.Sprintf("Could not start speech recognition: %v", err),
		})
		return
	}

	s.coord = coord
	s.state = Listening
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.epochLog.Info("reading started", "words", len(s.words), "language", s.lang)
	s.emit(ctx, ReadyEvent{Type: EventReady, SessionID: s.sessionID, Message: readyMessage})
}

func (s *Session) handleStop(ctx context.Context) {
	if s.state == Listening {
		s.endEpoch(ctx, Stopped)
		s.epochLog.Info("reading stopped", "cursor", s.cursor, "total", len(s.words))
	}
	s.emit(ctx, StoppedEvent{Type: EventStopped})
}

func (s *Session) handleRecognitionError(ctx context.Context, err error) {
	s.endEpoch(ctx, Stopped)
	s.epochLog.Warn("reading: recognition failed", "err", err)
	s.emit(ctx, ErrorEvent{
		Type:    EventError,
		Message: fmt.Sprintf("Speech recognition stopped: %v", err),
	})
}

// handleTranscript advances the cursor over every token of ev that matches
// the word under the cursor. Non-matching tokens are discarded.
func (s *Session) handleTranscript(ctx context.Context, ev recognition.TranscriptEvent) {
	partial := ev.Finality == recognition.Partial
	for _, tok := range Tokenize(ev.Text) {
		if s.cursor >= len(s.words) {
			return
		}
		expected := s.words[s.cursor]
		res := s.matcher.Match(expected, tok)
		if !res.IsMatch {
			continue
		}

		index := s.cursor
		s.recognized[index] = tok
		s.cursor++
		s.metrics.RecordWordRecognized(ctx, res.Confidence)
		s.emit(ctx, WordRecognizedEvent{
			Type:       EventWordRecognized,
			Word:       tok,
			Expected:   expected,
			Index:      index,
			Confidence: res.Confidence,
			Partial:    partial,
		})
		s.emitMilestones(ctx, index)

		if s.cursor == len(s.words) {
			s.complete(ctx)
		}
	}
}

// emitMilestones sends every milestone the cursor has newly reached.
func (s *Session) emitMilestones(ctx context.Context, index int) {
	total := len(s.words)
	for s.milestone < len(milestones) && s.cursor*len(milestones) >= total*(s.milestone+1) {
		s.emit(ctx, MilestoneEvent{
			Type:      EventMilestone,
			Milestone: milestones[s.milestone],
			Index:     index,
			Total:     total,
		})
		s.milestone++
	}
}

func (s *Session) complete(ctx context.Context) {
	completedAt := s.now()
	accuracy := s.matcher.Aggregate(s.words, s.recognized)
	wpm := wordsPerMinute(len(s.words), completedAt.Sub(s.startedAt))

	s.metrics.RecordPassageCompleted(ctx, accuracy.Rating)
	s.epochLog.Info("passage complete",
		"accuracy", accuracy.AccuracyPercent,
		"confidence", accuracy.AverageConfidence,
		"wpm", wpm,
	)
	s.emit(ctx, PassageCompleteEvent{
		Type:           EventPassageComplete,
		SessionID:      s.sessionID,
		Accuracy:       accuracy,
		WordsPerMinute: wpm,
	})

	if s.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	err := s.store.SaveResult(saveCtx, results.ReadingResult{
		SessionID:      s.sessionID,
		ConnectionID:   s.connID,
		Language:       s.lang,
		PassageWords:   append([]string(nil), s.words...),
		Accuracy:       accuracy,
		WordsPerMinute: wpm,
		StartedAt:      s.startedAt,
		CompletedAt:    completedAt,
	})
	if err != nil {
		s.epochLog.Error("reading: save result", "err", err)
	}
}

// endEpoch leaves the listening state as next and releases the coordinator.
// The state changes before the coordinator is stopped so that hypotheses
// queued meanwhile are ignored.
func (s *Session) endEpoch(ctx context.Context, next State) {
	if s.state == Listening {
		s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	if s.state == Listening || next == Idle {
		s.state = next
	}
	if s.coord != nil {
		c := s.coord
		s.coord = nil
		c.Stop()
	}
}

// callbacks routes coordinator output for epoch onto the inbox. A send gives
// up once either the session or the coordinator is gone, so neither
// Coordinator.Stop nor Run's exit can wait on it.
func (s *Session) callbacks(c *recognition.Coordinator, epoch uint64) recognition.Callbacks {
	send := func(in input) {
		select {
		case s.inbox <- in:
		case <-s.done:
		case <-c.Done():
		}
	}
	onTranscript := func(ev recognition.TranscriptEvent) {
		send(transcriptInput{epoch: epoch, event: ev})
	}
	return recognition.Callbacks{
		OnPartial: onTranscript,
		OnFinal:   onTranscript,
		OnError: func(err error) {
			send(recognitionErrorInput{epoch: epoch, err: err})
		},
	}
}

// emit publishes the current progress before sending, so a client that
// observed an event also observes the state that produced it.
func (s *Session) emit(ctx context.Context, event any) {
	s.publish()
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.epochLog.Debug("reading: emit event", "err", err)
	}
}

func (s *Session) publish() {
	s.mu.Lock()
	s.snapshot = Progress{
		State:     s.state,
		Cursor:    s.cursor,
		Total:     len(s.words),
		Epoch:     s.epoch,
		SessionID: s.sessionID,
	}
	s.mu.Unlock()
}

// ── helpers ─────────────────────────────────────────────────────────────────

// Tokenize splits a hypothesis on whitespace, lower-cases each token and
// strips every rune that is not a letter, digit or apostrophe. Tokens left
// empty are skipped.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
				return unicode.ToLower(r)
			}
			return -1
		}, f)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// StringWords keeps the string entries of a decoded JSON array.
func StringWords(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if w, ok := v.(string); ok {
			out = append(out, w)
		}
	}
	return out
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// wordsPerMinute is rounded to one decimal; zero when no time has passed.
func wordsPerMinute(words int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return math.Round(float64(words)/elapsed.Minutes()*10) / 10
}
