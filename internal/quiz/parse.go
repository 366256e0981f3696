package quiz

import (
	"bytes"
	"encoding/json"
	"strings"
)

// wireQuestion mirrors Question with a pointer answer so that a missing
// correct_answer is detectable.
type wireQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// Parse extracts questions from raw model output. It accepts, in order:
//
//   - a JSON array of questions;
//   - a JSON object with a "questions" array;
//   - a JSON object whose first array-valued field holds the questions;
//   - any text containing a [...] JSON array, such as a fenced code block.
//
// ok is false when nothing parses or when any question is malformed.
func Parse(content string) (questions []Question, ok bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	if raw, found := questionArray([]byte(content)); found {
		return decodeQuestions(raw)
	}

	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return nil, false
	}
	return decodeQuestions([]byte(content[start : end+1]))
}

// questionArray locates the question array in a complete JSON document.
func questionArray(doc []byte) (json.RawMessage, bool) {
	if !json.Valid(doc) {
		return nil, false
	}
	doc = bytes.TrimSpace(doc)
	switch doc[0] {
	case '[':
		return doc, true
	case '{':
		return firstArrayField(doc)
	default:
		return nil, false
	}
}

// firstArrayField returns the "questions" field if it is an array, otherwise
// the first array-valued field in document order.
func firstArrayField(obj []byte) (json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, false
	}
	var first json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, false
		}
		val = bytes.TrimSpace(val)
		if len(val) == 0 || val[0] != '[' {
			continue
		}
		if key == "questions" {
			return val, true
		}
		if first == nil {
			first = val
		}
	}
	return first, first != nil
}

func decodeQuestions(raw []byte) ([]Question, bool) {
	var wire []wireQuestion
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false
	}
	out := make([]Question, 0, len(wire))
	for _, w := range wire {
		q, valid := w.toQuestion()
		if !valid {
			return nil, false
		}
		out = append(out, q)
	}
	return out, true
}

func (w wireQuestion) toQuestion() (Question, bool) {
	text := strings.TrimSpace(w.Question)
	if text == "" || len(w.Options) != OptionCount || w.CorrectAnswer == nil {
		return Question{}, false
	}
	if *w.CorrectAnswer < 0 || *w.CorrectAnswer >= OptionCount {
		return Question{}, false
	}
	for _, o := range w.Options {
		if strings.TrimSpace(o) == "" {
			return Question{}, false
		}
	}
	return Question{
		Question:      text,
		Options:       append([]string(nil), w.Options...),
		CorrectAnswer: *w.CorrectAnswer,
		Explanation:   strings.TrimSpace(w.Explanation),
	}, true
}
