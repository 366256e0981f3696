// Package results defines persistence for completed readings.
//
// A [ReadingResult] is written once per epoch, when the reader reaches the
// last word of the passage. A comprehension quiz generated afterwards can be
// attached to it with [Store.AttachQuiz]. Three backends are provided:
// memory (the default, lost on restart), postgres and sqlite.
package results

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/wordmatch"
)

// ErrNotFound is returned when no result exists for a session id.
var ErrNotFound = errors.New("results: not found")

// ReadingResult is the persisted summary of one completed passage.
type ReadingResult struct {
	SessionID      string                    `json:"sessionId"`
	ConnectionID   string                    `json:"connectionId,omitempty"`
	Language       string                    `json:"language,omitempty"`
	PassageWords   []string                  `json:"passageWords"`
	Accuracy       wordmatch.PassageAccuracy `json:"accuracy"`
	WordsPerMinute float64                   `json:"wordsPerMinute"`
	StartedAt      time.Time                 `json:"startedAt"`
	CompletedAt    time.Time                 `json:"completedAt"`
	Quiz           []quiz.Question           `json:"quiz,omitempty"`
}

// Store persists reading results. Implementations must be safe for
// concurrent use.
type Store interface {
	// SaveResult inserts r, replacing any earlier result with the same
	// SessionID. A quiz already attached to that session is kept when r
	// carries none.
	SaveResult(ctx context.Context, r ReadingResult) error

	// AttachQuiz stores questions on the result for sessionID. Returns
	// [ErrNotFound] if no such result exists.
	AttachQuiz(ctx context.Context, sessionID string, questions []quiz.Question) error

	// Get returns the result for sessionID or [ErrNotFound].
	Get(ctx context.Context, sessionID string) (ReadingResult, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error
}

// Validate reports whether r can be stored.
func Validate(r ReadingResult) error {
	if r.SessionID == "" {
		return errors.New("results: session id must not be empty")
	}
	return nil
}
