package reading

import "github.com/MrWong99/readalong/internal/wordmatch"

// Outbound event type names.
const (
	EventReady           = "ready"
	EventWordRecognized  = "word_recognized"
	EventMilestone       = "milestone"
	EventPassageComplete = "passage_complete"
	EventStopped         = "stopped"
	EventError           = "error"
)

// Milestone names, in the order they are reached.
const (
	MilestoneQuarter       = "quarter"
	MilestoneHalf          = "half"
	MilestoneThreeQuarters = "three_quarters"
	MilestoneComplete      = "complete"
)

var milestones = [...]string{
	MilestoneQuarter,
	MilestoneHalf,
	MilestoneThreeQuarters,
	MilestoneComplete,
}

// ReadyEvent acknowledges a start. Audio sent after it is matched against
// the new passage.
type ReadyEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// WordRecognizedEvent reports that the reader said the word at Index.
type WordRecognizedEvent struct {
	Type       string  `json:"type"`
	Word       string  `json:"word"`
	Expected   string  `json:"expected"`
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
	Partial    bool    `json:"partial"`
}

// MilestoneEvent is sent once per epoch when the cursor first reaches a
// quarter, half, three quarters and all of the passage.
type MilestoneEvent struct {
	Type      string `json:"type"`
	Milestone string `json:"milestone"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

// PassageCompleteEvent summarizes a passage read to the last word.
type PassageCompleteEvent struct {
	Type           string                    `json:"type"`
	SessionID      string                    `json:"sessionId"`
	Accuracy       wordmatch.PassageAccuracy `json:"accuracy"`
	WordsPerMinute float64                   `json:"wordsPerMinute"`
}

// StoppedEvent acknowledges a stop.
type StoppedEvent struct {
	Type string `json:"type"`
}

// ErrorEvent carries a human-readable failure. The connection stays open.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
