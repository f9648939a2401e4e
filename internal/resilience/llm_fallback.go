package resilience

import (
	"context"

	"github.com/voxline-ai/voxline/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several language
// model backends. A caller waiting for a reply mid-call gets the first
// healthy backend's answer instead of an error while one model is down.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps primary as the preferred backend. Alternates register
// through [LLMFallback.AddFallback] and are consulted in that order.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an alternate backend tried after all earlier ones.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete asks the first healthy backend for a completion, advancing down
// the group on failure.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
