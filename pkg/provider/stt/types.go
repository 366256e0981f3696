package stt

import "time"

// Transcript is one recognition result.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal distinguishes committed phrases from interim hypotheses.
	IsFinal bool

	// Confidence is the provider's confidence (0.0–1.0), zero when not
	// reported.
	Confidence float64

	// Offset is where the phrase starts relative to the session start.
	Offset time.Duration

	// Duration is the length of the phrase.
	Duration time.Duration
}

// KeywordBoost is a recognition hint.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the hint intensity on a provider-specific scale. Providers
	// with binary phrase lists ignore it.
	Boost float64
}

// KeywordsFromWords turns a word list into deduplicated hints with the given
// boost, preserving first-seen order.
func KeywordsFromWords(words []string, boost float64) []KeywordBoost {
	seen := make(map[string]struct{}, len(words))
	out := make([]KeywordBoost, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, KeywordBoost{Keyword: w, Boost: boost})
	}
	return out
}
