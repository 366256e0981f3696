package resilience

import (
	"context"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across recognizers.
// Only opening the stream is covered: once a session is running, a failure
// ends that session and the reader restarts with a new "start".
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// recognizer.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognizer.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a session on the first healthy recognizer.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Statuses reports each recognizer's breaker state.
func (f *STTFallback) Statuses() []ProviderStatus { return f.group.Statuses() }

// Available reports whether any recognizer would accept a new stream.
func (f *STTFallback) Available() bool { return f.group.Available() }
