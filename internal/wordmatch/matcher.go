// Package wordmatch decides whether a spoken word counts as a correct reading
// of an expected word, and scores a whole passage once reading is done.
//
// Young readers mispronounce, drop endings and slur function words, and the
// recognizer adds its own spelling noise on top. The matcher therefore runs a
// lenient, short-circuiting pipeline over the normalized pair:
//
//  1. Exact equality scores 1.0.
//  2. A small table of known child variants ("duh" for "the", "cuz" for
//     "because") scores 0.95.
//  3. A phonetic score, the mean of three binary signals (Soundex, Metaphone
//     and the Match Rating Approach), is accepted outright when it reaches
//     0.85.
//  4. Otherwise the confidence is the best of the phonetic score, a
//     normalized Levenshtein similarity and an LCS-based fuzzy ratio, and the
//     pair matches when that confidence reaches the configured threshold
//     (default 0.70).
//
// A failure inside any single phonetic algorithm contributes zero to the
// phonetic score rather than failing the match.
package wordmatch

import (
	"regexp"
	"strings"
)

const (
	// DefaultThreshold is the minimum confidence for a match.
	DefaultThreshold = 0.70

	variantConfidence = 0.95
	phoneticAccept    = 0.85
)

// commonVariants maps an expected word to spellings a recognizer commonly
// produces when a child says it.
var commonVariants = map[string][]string{
	"the":     {"da", "duh", "thee"},
	"a":       {"uh", "ay"},
	"said":    {"sed", "sayed"},
	"because": {"becuz", "cuz", "cause"},
	"through": {"thru", "threw"},
	"though":  {"tho", "dough"},
	"laugh":   {"laf"},
	"enough":  {"enuf"},
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// Result is the outcome of comparing one expected word with one spoken token.
type Result struct {
	IsMatch    bool
	Confidence float64
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum confidence for a match. Values outside
// (0, 1] are ignored.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.threshold = threshold
		}
	}
}

// WithVariants adds extra known variants on top of the built-in table.
// Keys and values are normalized before use.
func WithVariants(variants map[string][]string) Option {
	return func(m *Matcher) {
		for expected, spoken := range variants {
			key := Normalize(expected)
			if key == "" {
				continue
			}
			for _, s := range spoken {
				if v := Normalize(s); v != "" {
					m.variants[key] = append(m.variants[key], v)
				}
			}
		}
	}
}

// Matcher scores spoken words against expected words. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	variants  map[string][]string
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold: DefaultThreshold,
		variants:  make(map[string][]string, len(commonVariants)),
	}
	for k, v := range commonVariants {
		m.variants[k] = append([]string(nil), v...)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold reports the configured match threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match compares expected against spoken. Confidence is always in [0, 1];
// IsMatch is true exactly when one of the pipeline stages accepts the pair.
func (m *Matcher) Match(expected, spoken string) Result {
	e := Normalize(expected)
	s := Normalize(spoken)

	if e == s {
		return Result{IsMatch: true, Confidence: 1}
	}

	if m.isVariant(e, s) {
		return Result{IsMatch: true, Confidence: variantConfidence}
	}

	phonetic := phoneticScore(e, s)
	if phonetic >= phoneticAccept {
		return Result{IsMatch: true, Confidence: clamp(phonetic)}
	}

	score := max(phonetic, levenshteinSimilarity(e, s), fuzzyRatio(e, s))
	score = clamp(score)
	return Result{IsMatch: score >= m.threshold, Confidence: score}
}

func (m *Matcher) isVariant(expected, spoken string) bool {
	for _, v := range m.variants[expected] {
		if v == spoken {
			return true
		}
	}
	return false
}

// Normalize strips everything that is not a letter, digit, underscore or
// whitespace, lower-cases the remainder and trims surrounding space.
func Normalize(word string) string {
	return strings.TrimSpace(strings.ToLower(nonWord.ReplaceAllString(word, "")))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
