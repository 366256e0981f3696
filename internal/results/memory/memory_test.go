package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
	"github.com/MrWong99/readalong/internal/wordmatch"
)

func sample(id string) results.ReadingResult {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return results.ReadingResult{
		SessionID:    id,
		PassageWords: []string{"the", "cat", "sat"},
		Accuracy: wordmatch.PassageAccuracy{
			TotalWords: 3, MatchedWords: 3, AccuracyPercent: 100,
			AverageConfidence: 0.98, Rating: wordmatch.RatingExcellent,
		},
		WordsPerMinute: 90,
		StartedAt:      start,
		CompletedAt:    start.Add(2 * time.Second),
	}
}

func sampleQuiz() []quiz.Question {
	return []quiz.Question{{
		Question:      "Who sat?",
		Options:       []string{"the cat", "the dog", "the hat", "the mat"},
		CorrectAnswer: 0,
	}}
}

func TestStore_SaveAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.SaveResult(ctx, sample("s1")); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Accuracy.MatchedWords != 3 || len(got.PassageWords) != 3 {
		t.Fatalf("Get = %+v", got)
	}

	got.PassageWords[0] = "mutated"
	again, _ := s.Get(ctx, "s1")
	if again.PassageWords[0] != "the" {
		t.Error("Get returned a slice aliasing stored state")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	_, err := New().Get(context.Background(), "nope")
	if !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveRejectsEmptyID(t *testing.T) {
	t.Parallel()
	if err := New().SaveResult(context.Background(), sample("")); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestStore_AttachQuiz(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.AttachQuiz(ctx, "s1", sampleQuiz()); !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("AttachQuiz before save: err = %v, want ErrNotFound", err)
	}

	_ = s.SaveResult(ctx, sample("s1"))
	if err := s.AttachQuiz(ctx, "s1", sampleQuiz()); err != nil {
		t.Fatalf("AttachQuiz: %v", err)
	}
	got, _ := s.Get(ctx, "s1")
	if len(got.Quiz) != 1 || got.Quiz[0].Question != "Who sat?" {
		t.Fatalf("Quiz = %+v", got.Quiz)
	}
}

func TestStore_ResaveKeepsQuiz(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	_ = s.SaveResult(ctx, sample("s1"))
	_ = s.AttachQuiz(ctx, "s1", sampleQuiz())

	r := sample("s1")
	r.WordsPerMinute = 120
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, _ := s.Get(ctx, "s1")
	if got.WordsPerMinute != 120 {
		t.Errorf("WordsPerMinute = %v, want 120", got.WordsPerMinute)
	}
	if len(got.Quiz) != 1 {
		t.Errorf("quiz dropped on re-save: %+v", got.Quiz)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
