package resilience

import (
	"context"

	"github.com/MrWong99/readalong/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across quiz models, for
// example OpenAI first and Anthropic second.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional LLM provider.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete returns the first successful completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Statuses reports each backend's breaker state.
func (f *LLMFallback) Statuses() []ProviderStatus { return f.group.Statuses() }

// Available reports whether any backend would accept a request.
func (f *LLMFallback) Available() bool { return f.group.Available() }
