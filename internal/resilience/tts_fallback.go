package resilience

import (
	"context"
	"fmt"

	"github.com/voxline-ai/voxline/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// Every provider in the group must emit PCM at the same sample rate: the rate
// is read once at construction and the synthesizer sizes frames by it.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
	rate  int
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		rate:  primary.SampleRate(),
	}
}

// AddFallback registers an additional TTS provider as a fallback. Returns an
// error when the provider's sample rate differs from the primary's.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	if got := provider.SampleRate(); got != f.rate {
		return fmt.Errorf("resilience: tts fallback %q emits %d Hz, primary emits %d Hz", name, got, f.rate)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Synthesize starts synthesis on the first healthy provider. Only stream setup
// is covered by failover; once a chunk channel is handed out, a mid-stream
// failure closes the channel and the reply degrades at the turn layer.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// SampleRate reports the shared PCM sample rate of the group.
func (f *TTSFallback) SampleRate() int {
	return f.rate
}
