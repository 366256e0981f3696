package wordmatch_test

import (
	"testing"

	"github.com/MrWong99/readalong/internal/wordmatch"
)

func TestAggregate(t *testing.T) {
	t.Parallel()

	m := wordmatch.New()

	tests := []struct {
		name       string
		expected   []string
		recognized []string
		want       wordmatch.PassageAccuracy
	}{
		{
			name:       "all matched with phonetic substitution",
			expected:   []string{"the", "cat", "sat"},
			recognized: []string{"the", "cat", "sad"},
			want: wordmatch.PassageAccuracy{
				TotalWords: 3, MatchedWords: 3, AccuracyPercent: 100,
				AverageConfidence: 1, Rating: wordmatch.RatingExcellent,
			},
		},
		{
			name:       "recognized shorter than expected",
			expected:   []string{"a", "big", "red", "dog"},
			recognized: []string{"a"},
			want: wordmatch.PassageAccuracy{
				TotalWords: 4, MatchedWords: 1, AccuracyPercent: 25,
				AverageConfidence: 1, Rating: wordmatch.RatingPractice,
			},
		},
		{
			name:       "variant lowers average confidence",
			expected:   []string{"the", "big", "dog", "runs", "fast"},
			recognized: []string{"duh", "big", "dog", "runs", "fast"},
			want: wordmatch.PassageAccuracy{
				TotalWords: 5, MatchedWords: 5, AccuracyPercent: 100,
				AverageConfidence: 0.99, Rating: wordmatch.RatingExcellent,
			},
		},
		{
			name:       "mismatch excluded from confidence",
			expected:   []string{"elephant", "dog", "runs"},
			recognized: []string{"cat", "dog", "runs"},
			want: wordmatch.PassageAccuracy{
				TotalWords: 3, MatchedWords: 2, AccuracyPercent: 66.67,
				AverageConfidence: 1, Rating: wordmatch.RatingPractice,
			},
		},
		{
			name: "empty passage",
			want: wordmatch.PassageAccuracy{Rating: wordmatch.RatingPractice},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Aggregate(tt.expected, tt.recognized)
			if got != tt.want {
				t.Errorf("Aggregate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRatingFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		accuracy float64
		want     string
	}{
		{100, wordmatch.RatingExcellent},
		{90, wordmatch.RatingExcellent},
		{89.99, wordmatch.RatingGreat},
		{80, wordmatch.RatingGreat},
		{79.5, wordmatch.RatingGood},
		{70, wordmatch.RatingGood},
		{69.99, wordmatch.RatingPractice},
		{0, wordmatch.RatingPractice},
	}
	for _, tt := range tests {
		if got := wordmatch.RatingFor(tt.accuracy); got != tt.want {
			t.Errorf("RatingFor(%v) = %q, want %q", tt.accuracy, got, tt.want)
		}
	}
}
