package wordmatch

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// phoneticScore is the mean of the Soundex, Metaphone and Match Rating
// signals. Each signal is 0 or 1.
func phoneticScore(a, b string) float64 {
	var sum float64
	sum += signal(func() bool { return codesEqual(soundex(a), soundex(b)) })
	sum += signal(func() bool {
		pa, _ := matchr.DoubleMetaphone(a)
		pb, _ := matchr.DoubleMetaphone(b)
		return codesEqual(pa, pb)
	})
	sum += signal(func() bool { return matchRatingCompare(a, b) })
	return sum / 3
}

// signal evaluates one phonetic comparison and converts it to 0 or 1. A panic
// inside the underlying encoder counts as 0.
func signal(cmp func() bool) (v float64) {
	defer func() {
		if recover() != nil {
			v = 0
		}
	}()
	if cmp() {
		return 1
	}
	return 0
}

// codesEqual compares two phonetic codes. Two empty codes are equal, so
// words an encoder cannot spell out (digits, for instance) still agree on
// that signal.
func codesEqual(a, b string) bool {
	return a == b
}

// soundex keeps words without a letter as they are; Soundex has no code for
// them and distinct numbers must not collapse onto one code.
func soundex(w string) string {
	if !strings.ContainsFunc(w, unicode.IsLetter) {
		return w
	}
	return matchr.Soundex(w)
}

// levenshteinSimilarity is 1 - distance/longer length, floored at 0. Either
// side being empty yields 0.
func levenshteinSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	d := matchr.Levenshtein(a, b)
	return math.Max(0, 1-float64(d)/float64(max(la, lb)))
}

// fuzzyRatio is 2*LCS/(len(a)+len(b)) rounded to two decimals, the classic
// "ratio" score used by fuzzy string matchers.
func fuzzyRatio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	lcs := matchr.LongestCommonSubsequence(a, b)
	return math.Round(200*float64(lcs)/float64(total)) / 100
}

// ── Match Rating Approach ───────────────────────────────────────────────────

// matchRatingCodex encodes a word for the Match Rating Approach: keep the
// first letter, drop later vowels, collapse doubled letters and keep the
// first and last three characters of long codes.
func matchRatingCodex(word string) []rune {
	upper := []rune(strings.ToUpper(strings.ReplaceAll(word, " ", "")))
	codex := make([]rune, 0, len(upper))
	var prev rune
	for i, c := range upper {
		if i == 0 || (!strings.ContainsRune("AEIOU", c) && c != prev) {
			codex = append(codex, c)
		}
		prev = c
	}
	if len(codex) > 6 {
		out := make([]rune, 0, 6)
		out = append(out, codex[:3]...)
		out = append(out, codex[len(codex)-3:]...)
		return out
	}
	return codex
}

// matchRatingCompare reports whether a and b are phonetically equivalent
// under the Match Rating Approach. Codes whose lengths differ by three or
// more never match.
func matchRatingCompare(a, b string) bool {
	ca, cb := matchRatingCodex(a), matchRatingCodex(b)
	switch {
	case len(ca) == 0 && len(cb) == 0:
		return true
	case len(ca) == 0 || len(cb) == 0:
		return false
	}
	if abs(len(ca)-len(cb)) >= 3 {
		return false
	}

	minRating := 2
	switch sum := len(ca) + len(cb); {
	case sum <= 4:
		minRating = 5
	case sum <= 7:
		minRating = 4
	case sum <= 11:
		minRating = 3
	}

	// Left-to-right pass removes positions that agree.
	var ra, rb []rune
	for i := 0; i < max(len(ca), len(cb)); i++ {
		x, y := runeAt(ca, i), runeAt(cb, i)
		if x != y {
			if x != 0 {
				ra = append(ra, x)
			}
			if y != 0 {
				rb = append(rb, y)
			}
		}
	}

	// Right-to-left pass counts what is still unmatched.
	var ua, ub int
	for i := 0; i < max(len(ra), len(rb)); i++ {
		x, y := runeAt(ra, len(ra)-1-i), runeAt(rb, len(rb)-1-i)
		if x != y {
			if x != 0 {
				ua++
			}
			if y != 0 {
				ub++
			}
		}
	}

	return 6-max(ua, ub) >= minRating
}

func runeAt(r []rune, i int) rune {
	if i < 0 || i >= len(r) {
		return 0
	}
	return r[i]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
