package app

import (
	"fmt"

	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/resilience"
)

// BuildProviders instantiates the configured providers through the registry.
// When a fallback entry is configured for a stage, the primary is wrapped in
// a failover group with a per-provider circuit breaker.
func BuildProviders(reg *config.Registry, cfg *config.Config, fb resilience.FallbackConfig) (*Providers, error) {
	p := &Providers{}

	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider: %w", err)
	}
	p.STT = sttPrimary
	if entry := cfg.Providers.STTFallback; entry != nil {
		secondary, err := reg.CreateSTT(*entry)
		if err != nil {
			return nil, fmt.Errorf("app: create stt fallback: %w", err)
		}
		group := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, fb)
		group.AddFallback(entry.Name, secondary)
		p.STT = group
	}

	llmPrimary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider: %w", err)
	}
	p.LLM = llmPrimary
	if entry := cfg.Providers.LLMFallback; entry != nil {
		secondary, err := reg.CreateLLM(*entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm fallback: %w", err)
		}
		group := resilience.NewLLMFallback(llmPrimary, cfg.Providers.LLM.Name, fb)
		group.AddFallback(entry.Name, secondary)
		p.LLM = group
	}

	ttsPrimary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider: %w", err)
	}
	p.TTS = ttsPrimary
	if entry := cfg.Providers.TTSFallback; entry != nil {
		secondary, err := reg.CreateTTS(*entry)
		if err != nil {
			return nil, fmt.Errorf("app: create tts fallback: %w", err)
		}
		group := resilience.NewTTSFallback(ttsPrimary, cfg.Providers.TTS.Name, fb)
		if err := group.AddFallback(entry.Name, secondary); err != nil {
			return nil, fmt.Errorf("app: add tts fallback: %w", err)
		}
		p.TTS = group
	}

	p.VAD, err = reg.CreateVAD(config.ProviderEntry{Name: "energy"})
	if err != nil {
		return nil, fmt.Errorf("app: create vad engine: %w", err)
	}

	return p, nil
}
