// Package quiz generates multiple-choice comprehension questions for a reading
// passage through an LLM.
//
// Model output is untrusted. The parser accepts the shapes models commonly
// produce (a bare JSON array, an object holding the array, or an array buried
// in prose or a code fence) and rejects the whole reply if any question is
// malformed, so callers see either well-formed questions or none.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/provider/llm"
)

// Defaults for [Generator.Generate].
const (
	DefaultCount    = 5
	DefaultAgeGroup = "11-13"

	// OptionCount is the number of answer options per question.
	OptionCount = 4

	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

// ErrEmptyText is returned when there is no passage to ask about.
var ErrEmptyText = errors.New("quiz: text must not be empty")

// Question is one multiple-choice comprehension question.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Generator produces comprehension questions. It is safe for concurrent use.
type Generator struct {
	provider     llm.Provider
	providerName string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
}

// Option is a functional option for Generator.
type Option func(*Generator)

// WithProviderName labels metrics with the backend name.
func WithProviderName(name string) Option {
	return func(g *Generator) { g.providerName = name }
}

// WithTemperature overrides the sampling temperature (default 0.7).
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens overrides the completion budget (default 2000).
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithMetrics overrides the metrics sink (default observe.DefaultMetrics()).
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// New creates a Generator backed by p.
func New(p llm.Provider, opts ...Option) (*Generator, error) {
	if p == nil {
		return nil, errors.New("quiz: provider must not be nil")
	}
	g := &Generator{
		provider:     p,
		providerName: "llm",
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g, nil
}

// Generate asks the model for count questions about text pitched at
// ageGroup. A count below 1 selects [DefaultCount] and an empty ageGroup
// selects [DefaultAgeGroup].
//
// A provider failure is returned as an error. A reply that cannot be parsed
// into well-formed questions yields an empty slice and a nil error. At most
// count questions are returned.
func (g *Generator) Generate(ctx context.Context, text string, count int, ageGroup string) ([]Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if count < 1 {
		count = DefaultCount
	}
	if ageGroup == "" {
		ageGroup = DefaultAgeGroup
	}

	ctx, span := observe.StartSpan(ctx, "quiz.generate")
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(count, ageGroup),
		Messages: []llm.Message{
			{Role: "user", Content: userPrompt(text, count)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		JSONMode:    true,
	})
	g.metrics.QuizDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", "error")
		g.metrics.RecordProviderError(ctx, g.providerName, "llm")
		span.RecordError(err)
		return nil, fmt.Errorf("quiz: generate: %w", err)
	}
	g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", "ok")
	if resp == nil {
		return []Question{}, nil
	}

	questions, ok := Parse(resp.Content)
	if !ok {
		log.Warn("quiz: discarding unparsable model output",
			"provider", g.providerName,
			"bytes", len(resp.Content),
		)
		return []Question{}, nil
	}
	if len(questions) > count {
		questions = questions[:count]
	}
	log.Debug("quiz generated",
		"provider", g.providerName,
		"questions", len(questions),
		"duration", time.Since(start),
	)
	return questions, nil
}

func systemPrompt(count int, ageGroup string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write reading comprehension quizzes for children aged %s.\n", ageGroup)
	fmt.Fprintf(&b, "Write %d multiple-choice questions that test understanding of the passage you are given.\n\n", count)
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Pitch every question at %s year olds and use clear, simple language.\n", ageGroup)
	b.WriteString("- Mix literal recall with inference questions.\n")
	fmt.Fprintf(&b, "- Give exactly %d answer options and exactly one correct answer.\n", OptionCount)
	b.WriteString("- Wrong options must be plausible but clearly incorrect.\n")
	b.WriteString("- Add a one-sentence explanation of the correct answer.\n\n")
	b.WriteString(`Reply with JSON only, in this shape:
{"questions": [
  {
    "question": "What is the main idea of the story?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correct_answer": 0,
    "explanation": "Why this answer is correct"
  }
]}`)
	return b.String()
}

func userPrompt(text string, count int) string {
	return fmt.Sprintf("Passage:\n%s\n\nWrite %d comprehension questions.", text, count)
}
