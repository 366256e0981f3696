package wordmatch

import "math"

// Rating labels shown to the reader after a passage.
const (
	RatingExcellent = "⭐⭐⭐ Excellent!"
	RatingGreat     = "⭐⭐ Great job!"
	RatingGood      = "⭐ Good effort!"
	RatingPractice  = "Keep practicing! You're improving!"
)

// PassageAccuracy summarizes how well a passage was read.
type PassageAccuracy struct {
	TotalWords        int     `json:"totalWords"`
	MatchedWords      int     `json:"matchedWords"`
	AccuracyPercent   float64 `json:"accuracyPercent"`
	AverageConfidence float64 `json:"averageConfidence"`
	Rating            string  `json:"rating"`
}

// Aggregate pairs expected and recognized words by position and scores each
// pair with [Matcher.Match]. Words beyond the end of recognized count as
// missed. Only matched pairs contribute to the average confidence.
// AccuracyPercent and AverageConfidence are rounded to two decimals; the
// rating band is chosen from the unrounded percentage.
func (m *Matcher) Aggregate(expected, recognized []string) PassageAccuracy {
	total := len(expected)
	var (
		matched int
		confSum float64
	)
	for i, want := range expected {
		if i >= len(recognized) {
			break
		}
		if r := m.Match(want, recognized[i]); r.IsMatch {
			matched++
			confSum += r.Confidence
		}
	}

	var accuracy, avgConf float64
	if total > 0 {
		accuracy = float64(matched) / float64(total) * 100
	}
	if matched > 0 {
		avgConf = confSum / float64(matched)
	}

	return PassageAccuracy{
		TotalWords:        total,
		MatchedWords:      matched,
		AccuracyPercent:   round2(accuracy),
		AverageConfidence: round2(avgConf),
		Rating:            RatingFor(accuracy),
	}
}

// RatingFor returns the encouragement band for an accuracy percentage.
func RatingFor(accuracy float64) string {
	switch {
	case accuracy >= 90:
		return RatingExcellent
	case accuracy >= 80:
		return RatingGreat
	case accuracy >= 70:
		return RatingGood
	default:
		return RatingPractice
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
