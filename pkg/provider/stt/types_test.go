package stt_test

import (
	"testing"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

func TestKeywordsFromWords(t *testing.T) {
	t.Parallel()

	got := stt.KeywordsFromWords([]string{"the", "cat", "", "the", "sat"}, 2)
	want := []string{"the", "cat", "sat"}
	if len(got) != len(want) {
		t.Fatalf("KeywordsFromWords: got %d keywords, want %d", len(got), len(want))
	}
	for i, kw := range got {
		if kw.Keyword != want[i] {
			t.Errorf("keyword[%d] = %q, want %q", i, kw.Keyword, want[i])
		}
		if kw.Boost != 2 {
			t.Errorf("keyword[%d].Boost = %f, want 2", i, kw.Boost)
		}
	}
}
