package resilience

import (
	"context"
	"errors"

	"github.com/voxline-ai/voxline/pkg/provider/stt"
)

// errTranscriptionFailed stands in for a failed Result that carries no cause.
var errTranscriptionFailed = errors.New("transcription failed")

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
//
// Only [stt.StatusFailed] results count as backend failures and advance to the
// next provider. A rejected transcription is a judgement about the audio, not
// about the service, so it is returned as-is and keeps the breaker closed.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the utterance against the first healthy provider. When every
// provider fails or has an open breaker, a [stt.StatusFailed] result wrapping
// [ErrAllFailed] is returned.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) stt.Result {
	res, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		r := p.Transcribe(ctx, pcm, cfg)
		if r.Status == stt.StatusFailed {
			if r.Err != nil {
				return r, r.Err
			}
			return r, errTranscriptionFailed
		}
		return r, nil
	})
	if err != nil {
		return stt.Result{Status: stt.StatusFailed, Err: err}
	}
	return res
}
