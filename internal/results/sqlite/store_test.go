package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
	"github.com/MrWong99/readalong/internal/wordmatch"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "results.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample(id string, completed time.Time) results.ReadingResult {
	return results.ReadingResult{
		SessionID:    id,
		ConnectionID: "conn-1",
		Language:     "en-US",
		PassageWords: []string{"the", "cat", "sat"},
		Accuracy: wordmatch.PassageAccuracy{
			TotalWords: 3, MatchedWords: 3, AccuracyPercent: 100,
			AverageConfidence: 0.97, Rating: wordmatch.RatingExcellent,
		},
		WordsPerMinute: 60,
		StartedAt:      completed.Add(-3 * time.Second),
		CompletedAt:    completed,
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	completed := time.Date(2025, 3, 1, 9, 0, 3, 500, time.UTC)

	want := sample("s1", completed)
	if err := s.SaveResult(ctx, want); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Accuracy != want.Accuracy {
		t.Errorf("Accuracy = %+v, want %+v", got.Accuracy, want.Accuracy)
	}
	if got.Language != "en-US" || got.ConnectionID != "conn-1" {
		t.Errorf("got %+v", got)
	}
	if !got.CompletedAt.Equal(completed) || !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("times = %v/%v, want %v/%v", got.StartedAt, got.CompletedAt, want.StartedAt, completed)
	}
	if got.Quiz != nil {
		t.Errorf("Quiz = %+v, want nil", got.Quiz)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_AttachQuiz(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	qs := []quiz.Question{{
		Question:      "Who sat?",
		Options:       []string{"cat", "dog", "hat", "mat"},
		CorrectAnswer: 0,
	}}

	if err := s.AttachQuiz(ctx, "s1", qs); !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("AttachQuiz before save: err = %v, want ErrNotFound", err)
	}
	_ = s.SaveResult(ctx, sample("s1", time.Now()))
	if err := s.AttachQuiz(ctx, "s1", qs); err != nil {
		t.Fatalf("AttachQuiz: %v", err)
	}
	// Re-saving without a quiz keeps the attached one.
	if err := s.SaveResult(ctx, sample("s1", time.Now())); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Quiz) != 1 || got.Quiz[0].Options[3] != "mat" {
		t.Fatalf("Quiz = %+v", got.Quiz)
	}
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_ = s.SaveResult(ctx, sample("old", now.Add(-48*time.Hour)))
	_ = s.SaveResult(ctx, sample("new", now))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, results.ErrNotFound) {
		t.Errorf("old result still present: %v", err)
	}
	if _, err := s.Get(ctx, "new"); err != nil {
		t.Errorf("new result missing: %v", err)
	}
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
