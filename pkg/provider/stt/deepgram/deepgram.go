// Package deepgram provides a Deepgram-backed STT provider using the
// pre-recorded transcription REST API. It implements the stt.Provider
// interface.
//
// Voxline transcribes whole utterances rather than open-ended streams, so the
// batch endpoint is a better fit than Deepgram's streaming WebSocket: one
// request per turn, no connection lifecycle to supervise.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voxline-ai/voxline/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API endpoint, for testing against a local stub.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithTimeout sets the per-request HTTP timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by the Deepgram batch API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    deepgramEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

var _ stt.Provider = (*Provider)(nil)

// deepgramResponse is the JSON structure returned for a batch transcription.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe submits raw PCM to Deepgram and returns the first alternative.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) stt.Result {
	if len(pcm) == 0 {
		return stt.Result{Status: stt.StatusRejected}
	}

	reqURL, err := p.buildURL(cfg)
	if err != nil {
		return stt.Result{Status: stt.StatusFailed, Err: fmt.Errorf("deepgram: build URL: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(pcm))
	if err != nil {
		return stt.Result{Status: stt.StatusFailed, Err: fmt.Errorf("deepgram: build request: %w", err)}
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/raw")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Result{Status: stt.StatusFailed, Err: fmt.Errorf("deepgram: request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{Status: stt.StatusFailed,
			Err: fmt.Errorf("deepgram: status %d: %s", resp.StatusCode, body)}
	}

	var dr deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return stt.Result{Status: stt.StatusFailed, Err: fmt.Errorf("deepgram: decode response: %w", err)}
	}
	if len(dr.Results.Channels) == 0 || len(dr.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{Status: stt.StatusRejected}
	}
	text := dr.Results.Channels[0].Alternatives[0].Transcript
	if text == "" {
		return stt.Result{Status: stt.StatusRejected}
	}
	return stt.Result{Status: stt.StatusOK, Text: text}
}

// buildURL constructs the batch endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.Config) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
