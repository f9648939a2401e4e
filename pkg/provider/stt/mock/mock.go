// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxline-ai/voxline/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte

	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results, when non-empty, is consumed one entry per Transcribe call.
	// Once exhausted, Result is returned for all further calls.
	Results []stt.Result

	// Result is returned once Results is exhausted (or always, when Results
	// is empty).
	Result stt.Result

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	pos int
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(_ context.Context, pcm []byte, cfg stt.Config) stt.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: cp, Cfg: cfg})
	if p.pos < len(p.Results) {
		r := p.Results[p.pos]
		p.pos++
		return r
	}
	return p.Result
}

// CallCount returns the number of Transcribe invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
