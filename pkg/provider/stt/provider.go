// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., OpenAI, Deepgram) and
// transcribes one complete caller utterance at a time: the turn state machine
// buffers decoded PCM between VAD boundaries and hands the whole utterance to
// Transcribe once the end boundary fires.
//
// Transcribe returns an explicit Result instead of overloading the error
// return: the turn state machine's transition table switches exhaustively on
// Result.Status, and a provider failure must degrade the turn rather than
// propagate. A non-OK Result never terminates a call.
//
// Implementations must be safe for concurrent use; one Transcribe call may be
// in flight per active call.
package stt

import "context"

// Status classifies a transcription outcome.
type Status int

const (
	// StatusOK means Text holds a usable transcription.
	StatusOK Status = iota

	// StatusRejected means the service responded but the result is unusable
	// (empty, gibberish, or filtered); the caller should be asked to repeat.
	StatusRejected

	// StatusFailed means the service could not be reached or errored; Err
	// holds the cause for logging.
	StatusFailed
)

// String returns the lowercase name of the status, for logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Status classifies the outcome; Text is meaningful only for StatusOK.
	Status Status

	// Text is the recognised utterance text.
	Text string

	// Err holds the underlying cause for StatusFailed. Never inspected for
	// control flow, only logged.
	Err error
}

// Config describes the audio format and recognition hints for a Transcribe call.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Voxline always transcribes at
	// the speech rate (16000).
	SampleRate int

	// Language is the BCP-47 language hint (e.g., "he", "en"). Empty lets the
	// provider auto-detect.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one utterance of little-endian PCM16 mono audio to
	// text. It blocks on external I/O; ctx bounds the call. All failure modes
	// are reported through Result.Status, never by panicking, and the method
	// must be invoked at most once per conversation turn.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) Result
}
