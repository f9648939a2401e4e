// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-call session. Each session maintains its own internal state
// (energy history, hangover counters) so that many concurrent calls can be
// processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the 20ms media loop. Utterance
// boundaries are declared exclusively by VAD sessions; no other pipeline
// component may declare them.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

// Config holds the tunable parameters for a VAD session. The thresholds are
// empirically tuned values; expose them in deployment configuration and
// validate against recorded call audio rather than assuming the defaults.
type Config struct {
	// SampleRate is the PCM sample rate in Hz of frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the normalised RMS energy above which a frame is
	// classified as speech. Range: [0.0, 1.0]. Typical for telephony: 0.02.
	SpeechThreshold float64

	// SilenceThreshold is the normalised RMS energy below which a frame is
	// classified as silence. Must be ≤ SpeechThreshold. Typical: 0.012.
	SilenceThreshold float64

	// MinSpeechMs is the minimum sustained-speech duration before an
	// utterance start is declared, rejecting transient noise spikes.
	// Typical: 100.
	MinSpeechMs int

	// HangoverMs is the silence duration tolerated inside an utterance before
	// the end boundary is declared, so brief intra-word pauses do not truncate
	// words. Typical: 300–500.
	HangoverMs int
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech score for this frame (0.0–1.0). For the
	// energy engine this is the normalised RMS.
	Probability float64
}

// VADEventType enumerates VAD detection states. VADSpeechStart and
// VADSpeechEnd are the utterance boundaries consumed by the turn state
// machine; the other two values carry per-frame classification only.
type VADEventType int

const (
	// VADSpeechStart indicates an utterance has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech inside an utterance.
	VADSpeechContinue

	// VADSpeechEnd indicates the utterance has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// SessionHandle represents an active VAD session for a single call's inbound
// audio. It is an interface so that test code can supply scripted
// implementations without a live engine.
type SessionHandle interface {
	// ProcessFrame analyses a single PCM frame and returns the detection
	// result. The frame must be raw little-endian PCM16 at the configured
	// SampleRate and FrameSizeMs. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use when the audio stream is interrupted (e.g. after playback
	// ends) so stale state does not affect subsequent frames.
	Reset()

	// Close releases the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: one session is created per
// active call.
type Engine interface {
	// NewSession creates a session with the given configuration, ready to
	// accept frames. Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
