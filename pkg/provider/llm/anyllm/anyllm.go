// Package anyllm adapts github.com/mozilla-ai/any-llm-go, a unified
// multi-backend LLM client, to the llm.Provider interface. One constructor
// covers OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and the
// llama.cpp family, so the dialogue layer is configured by name rather than
// compiled against a vendor SDK.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"fmt"
	"sort"
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

	"github.com/voxline-ai/voxline/pkg/provider/llm"
)

// backends maps the supported backend names to their any-llm-go
// constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    asProvider(anyllmoai.New),
	"anthropic": asProvider(anthropic.New),
	"gemini":    asProvider(gemini.New),
	"ollama":    asProvider(ollama.New),
	"deepseek":  asProvider(deepseek.New),
	"mistral":   asProvider(mistral.New),
	"groq":      asProvider(groq.New),
	"llamacpp":  asProvider(llamacpp.New),
	"llamafile": asProvider(llamafile.New),
}

// asProvider adapts a constructor returning a concrete provider type to one
// returning the anyllmlib.Provider interface.
func asProvider[P anyllmlib.Provider](open func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := open(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Provider implements [llm.Provider] on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New opens the named backend with the given model. Keys omitted from opts
// come from the backend's usual environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, and so on); local backends like ollama only need a
// base URL.
func New(backendName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	open, ok := backends[strings.ToLower(backendName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q, supported: %s",
			backendName, strings.Join(backendNames(), ", "))
	}
	backend, err := open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %q backend: %w", backendName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: response carried no choices")
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// params maps a CompletionRequest onto any-llm-go's wire parameters. The
// system prompt is prepended as its own message.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
