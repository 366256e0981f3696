// Package anyllm runs the quiz model on any backend supported by
// github.com/mozilla-ai/any-llm-go. The server uses it for the Anthropic
// fallback behind OpenAI and for local models (Ollama, llama.cpp, llamafile).
//
//	p, err := anyllm.NewAnthropic("", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.New("ollama", "llama3.1")
//
// any-llm-go exposes no portable JSON response format, so JSON mode is
// requested through the system prompt.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/readalong/pkg/provider/llm"
)

// Default models for the dedicated constructors.
const (
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	DefaultOllamaModel    = "llama3.1"
)

// jsonInstruction is appended to the system prompt in JSON mode.
const jsonInstruction = "Respond with a single valid JSON object and nothing else: no prose, no code fences."

type factory func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)

// adapt turns a concrete any-llm constructor into a factory.
func adapt[P anyllmlib.Provider](ctor func(...anyllmlib.Option) (P, error)) factory {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := ctor(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var backends = map[string]factory{
	"anthropic": adapt(anthropic.New),
	"deepseek":  adapt(deepseek.New),
	"gemini":    adapt(gemini.New),
	"groq":      adapt(groq.New),
	"llamacpp":  adapt(llamacpp.New),
	"llamafile": adapt(llamafile.New),
	"mistral":   adapt(mistral.New),
	"ollama":    adapt(ollama.New),
	"openai":    adapt(anyllmoai.New),
}

// Backends lists the supported backend names in sorted order.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements llm.Provider on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New returns a Provider for backend name (see [Backends]). opts are passed
// to any-llm-go; without an API key option the backend reads its usual
// environment variable, such as ANTHROPIC_API_KEY.
func New(name string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	name = strings.ToLower(name)
	create, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", name, strings.Join(Backends(), ", "))
	}
	backend, err := create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: model}, nil
}

// NewAnthropic returns a Claude-backed Provider. An empty model selects
// [DefaultAnthropicModel].
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return New("anthropic", model, opts...)
}

// NewOllama returns a Provider for a local Ollama server, by default at
// http://localhost:11434. An empty model selects [DefaultOllamaModel].
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	return New("ollama", model, opts...)
}

// Name returns the lower-cased backend name.
func (p *Provider) Name() string { return p.name }

// Model returns the model name sent with each request.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider. A reply without text is reported as
// [llm.ErrEmptyCompletion].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, llm.ErrEmptyCompletion)
	}
	content := resp.Choices[0].Message.ContentString()
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, llm.ErrEmptyCompletion)
	}

	out := &llm.CompletionResponse{Content: content}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	system := req.SystemPrompt
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}

	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if system != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

var _ llm.Provider = (*Provider)(nil)
