// Package memory provides an in-process [results.Store].
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
)

var _ results.Store = (*Store)(nil)

// Store keeps results in a map guarded by a RWMutex. The zero value is not
// usable; create one with [New].
type Store struct {
	mu   sync.RWMutex
	byID map[string]results.ReadingResult
}

// New returns an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]results.ReadingResult)}
}

// SaveResult implements [results.Store].
func (s *Store) SaveResult(_ context.Context, r results.ReadingResult) error {
	if err := results.Validate(r); err != nil {
		return err
	}
	r = clone(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byID[r.SessionID]; ok && r.Quiz == nil {
		r.Quiz = prev.Quiz
	}
	s.byID[r.SessionID] = r
	return nil
}

// AttachQuiz implements [results.Store].
func (s *Store) AttachQuiz(_ context.Context, sessionID string, questions []quiz.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[sessionID]
	if !ok {
		return results.ErrNotFound
	}
	r.Quiz = cloneQuiz(questions)
	s.byID[sessionID] = r
	return nil
}

// Get implements [results.Store].
func (s *Store) Get(_ context.Context, sessionID string) (results.ReadingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[sessionID]
	if !ok {
		return results.ReadingResult{}, results.ErrNotFound
	}
	return clone(r), nil
}

// Ping implements [results.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [results.Store]. It is a no-op.
func (s *Store) Close() error { return nil }

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func clone(r results.ReadingResult) results.ReadingResult {
	r.PassageWords = slices.Clone(r.PassageWords)
	r.Quiz = cloneQuiz(r.Quiz)
	return r
}

func cloneQuiz(qs []quiz.Question) []quiz.Question {
	if qs == nil {
		return nil
	}
	out := make([]quiz.Question, len(qs))
	for i, q := range qs {
		q.Options = slices.Clone(q.Options)
		out[i] = q
	}
	return out
}
