// Package energy implements vad.Engine with a short-window energy detector:
// per-frame normalised RMS energy plus zero-crossing rate, with a minimum
// sustained-speech window before declaring an utterance start and a hangover
// window of silence before declaring the end.
//
// The detector carries no model weights and allocates nothing per frame,
// which keeps it inside the 20ms frame budget with room to spare.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/voxline-ai/voxline/pkg/provider/vad"
)

// Zero-crossing-rate band for voiced/unvoiced speech. Frames outside the band
// with marginal energy are treated as line noise rather than speech.
const (
	zcrMin = 0.01
	zcrMax = 0.65
)

// Engine implements vad.Engine. The zero value is ready to use.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a detector session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %g out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %g exceeds speech threshold %g",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	minSpeechFrames := cfg.MinSpeechMs / cfg.FrameSizeMs
	if minSpeechFrames < 1 {
		minSpeechFrames = 1
	}
	hangoverFrames := cfg.HangoverMs / cfg.FrameSizeMs
	if hangoverFrames < 1 {
		hangoverFrames = 1
	}
	return &session{
		cfg:             cfg,
		frameBytes:      cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		minSpeechFrames: minSpeechFrames,
		hangoverFrames:  hangoverFrames,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// session is a per-call energy detector. Not safe for concurrent use.
type session struct {
	cfg             vad.Config
	frameBytes      int
	minSpeechFrames int
	hangoverFrames  int

	inUtterance bool
	speechRun   int
	silenceRun  int

	closeOnce sync.Once
	closed    bool
}

var errClosed = errors.New("energy vad: session is closed")

// ProcessFrame classifies one PCM16 frame and advances the boundary state
// machine.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{Type: vad.VADSilence}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{Type: vad.VADSilence},
			fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms, zcr := frameStats(frame)
	speech := s.classify(rms, zcr)

	switch {
	case !s.inUtterance && speech:
		s.speechRun++
		if s.speechRun >= s.minSpeechFrames {
			s.inUtterance = true
			s.silenceRun = 0
			return vad.VADEvent{Type: vad.VADSpeechStart, Probability: rms}, nil
		}
		return vad.VADEvent{Type: vad.VADSilence, Probability: rms}, nil

	case !s.inUtterance:
		s.speechRun = 0
		return vad.VADEvent{Type: vad.VADSilence, Probability: rms}, nil

	case speech:
		s.silenceRun = 0
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: rms}, nil

	default:
		s.silenceRun++
		if s.silenceRun >= s.hangoverFrames {
			s.inUtterance = false
			s.speechRun = 0
			s.silenceRun = 0
			return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: rms}, nil
		}
		// Inside hangover: still counted as part of the utterance.
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: rms}, nil
	}
}

// Classify reports whether a single frame is speech, without advancing the
// boundary state. Frames of the wrong size are classified as silence.
func (s *session) Classify(frame []byte) bool {
	if len(frame) != s.frameBytes {
		return false
	}
	rms, zcr := frameStats(frame)
	return s.classify(rms, zcr)
}

func (s *session) classify(rms, zcr float64) bool {
	if rms >= s.cfg.SpeechThreshold {
		return zcr >= zcrMin && zcr <= zcrMax
	}
	// Between the two thresholds, keep the current classification sticky so a
	// decaying word tail is not chopped mid-frame.
	if s.inUtterance && rms > s.cfg.SilenceThreshold {
		return zcr >= zcrMin && zcr <= zcrMax
	}
	return false
}

// Reset clears boundary state without closing the session.
func (s *session) Reset() {
	s.inUtterance = false
	s.speechRun = 0
	s.silenceRun = 0
}

// Close marks the session closed. Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() { s.closed = true })
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

// frameStats computes the normalised RMS energy and zero-crossing rate of a
// little-endian PCM16 frame.
func frameStats(frame []byte) (rms, zcr float64) {
	samples := len(frame) / 2
	if samples == 0 {
		return 0, 0
	}
	var sumSquares float64
	var crossings int
	var prev int16
	for i := range samples {
		s := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		f := float64(s)
		sumSquares += f * f
		if i > 0 && ((s >= 0) != (prev >= 0)) {
			crossings++
		}
		prev = s
	}
	rms = math.Sqrt(sumSquares/float64(samples)) / 32768.0
	zcr = float64(crossings) / float64(samples)
	return rms, zcr
}
