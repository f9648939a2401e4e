// Package audio provides the telephony audio primitives for Voxline: the
// G.711 μ-law codec, linear-interpolation resampling, and the AudioFrame type
// that flows through the pipeline.
//
// All telephony audio is 8 kHz mono. Speech services consume 16 kHz mono
// PCM16, so the only resampling performed anywhere is the 8k↔16k boundary.
package audio

import "time"

const (
	// TelephonyRate is the narrow-band telephony sample rate in Hz.
	TelephonyRate = 8000

	// SpeechRate is the sample rate expected by STT and produced by TTS, in Hz.
	SpeechRate = 16000

	// FrameDuration is the fixed duration of one media frame.
	FrameDuration = 20 * time.Millisecond

	// FrameBytes is the size of one μ-law frame: 160 samples of 1 byte each
	// for 20ms at 8 kHz mono.
	FrameBytes = 160

	// FrameSamples is the number of samples per frame at the telephony rate.
	FrameSamples = 160
)

// AudioFrame is the atomic unit of transport: one 20ms chunk of μ-law encoded
// audio plus a monotonically increasing sequence number. Frames are immutable
// once created; pipeline stages must not modify Payload in place.
type AudioFrame struct {
	// Payload is the μ-law encoded audio, FrameBytes long for a full frame.
	Payload []byte

	// Seq increases by one per frame within a stream, starting at 0.
	Seq uint64

	// Timestamp marks when this frame was received or generated, relative to
	// stream start.
	Timestamp time.Duration
}
