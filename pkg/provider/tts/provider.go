// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a streaming interface: Synthesize returns a channel that emits raw
// PCM chunks as they become available, so playback can begin before the full
// reply is synthesised and can stop pulling at any point when the caller
// barges in.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile identifies a provider voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is a human-readable label, for logs and configuration files.
	Name string

	// Language is the BCP-47 language tag the voice speaks (e.g., "he").
	Language string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech and returns a channel emitting raw
	// little-endian PCM16 mono chunks at SampleRate(). The channel is closed
	// by the implementation when synthesis completes, on error, or when ctx
	// is cancelled; the consumer cancels ctx to abandon a reply mid-stream
	// and must not be required to drain remaining chunks after that.
	//
	// A non-nil error is returned only if the stream cannot be started;
	// mid-stream failures are signalled by closing the channel early.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// SampleRate returns the PCM sample rate in Hz of the emitted chunks.
	SampleRate() int
}
