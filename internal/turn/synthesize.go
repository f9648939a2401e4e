package turn

import (
	"context"
	"log/slog"

	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/provider/tts"
)

// ulawSilence is the μ-law code for a zero sample, used to pad the final
// partial frame of a reply.
const ulawSilence = 0xFF

// Synthesizer converts reply text into telephony frames: it pulls PCM chunks
// from the text-to-speech provider as they are produced, resamples them down
// to the telephony rate, μ-law encodes them, and re-frames the result into
// fixed 20ms payloads. The frame stream is lazy; the consuming PlaybackJob
// may stop pulling at any frame boundary without waiting for synthesis to
// finish.
type Synthesizer struct {
	provider tts.Provider
	voice    tts.VoiceProfile

	// fallback is pre-rendered μ-law audio spoken in place of a reply when
	// synthesis fails. Empty means failures produce no audio at all.
	fallback []byte
}

// NewSynthesizer creates a Synthesizer. fallback is raw μ-law telephony audio
// played when the provider fails; pass nil to degrade to silence.
func NewSynthesizer(provider tts.Provider, voice tts.VoiceProfile, fallback []byte) *Synthesizer {
	return &Synthesizer{provider: provider, voice: voice, fallback: fallback}
}

// Synthesize starts synthesis of text and returns a channel of μ-law frame
// payloads, each exactly one frame long. The channel closes when the reply is
// fully framed, when ctx is cancelled, or after the fallback audio has been
// emitted following a provider failure.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) <-chan []byte {
	out := make(chan []byte, 8)
	go s.stream(ctx, text, out)
	return out
}

func (s *Synthesizer) stream(ctx context.Context, text string, out chan<- []byte) {
	defer close(out)

	chunks, err := s.provider.Synthesize(ctx, text, s.voice)
	if err != nil {
		slog.Error("turn: synthesis start failed, using fallback audio", "err", err)
		s.emitFallback(ctx, out)
		return
	}

	rate := s.provider.SampleRate()
	var carry byte // dangling low byte of a PCM16 sample split across chunks
	var haveCarry bool
	var buf []byte // μ-law bytes awaiting a full frame
	produced := false

	for chunk := range chunks {
		if haveCarry {
			chunk = append([]byte{carry}, chunk...)
			haveCarry = false
		}
		if len(chunk)%2 != 0 {
			carry = chunk[len(chunk)-1]
			haveCarry = true
			chunk = chunk[:len(chunk)-1]
		}
		if len(chunk) == 0 {
			continue
		}

		narrow := audio.ResampleMono16(chunk, rate, audio.TelephonyRate)
		buf = append(buf, audio.EncodeULaw(narrow)...)

		for len(buf) >= audio.FrameBytes {
			frame := make([]byte, audio.FrameBytes)
			copy(frame, buf)
			buf = buf[audio.FrameBytes:]
			select {
			case <-ctx.Done():
				return
			case out <- frame:
				produced = true
			}
		}
	}
	if ctx.Err() != nil {
		return
	}

	// A stream that closed without yielding any audio is a mid-stream
	// provider failure.
	if !produced && len(buf) == 0 {
		slog.Error("turn: synthesis produced no audio, using fallback audio")
		s.emitFallback(ctx, out)
		return
	}

	if len(buf) > 0 {
		frame := make([]byte, audio.FrameBytes)
		n := copy(frame, buf)
		for i := n; i < audio.FrameBytes; i++ {
			frame[i] = ulawSilence
		}
		select {
		case <-ctx.Done():
		case out <- frame:
		}
	}
}

// emitFallback frames the pre-rendered fallback audio onto out.
func (s *Synthesizer) emitFallback(ctx context.Context, out chan<- []byte) {
	for off := 0; off < len(s.fallback); off += audio.FrameBytes {
		frame := make([]byte, audio.FrameBytes)
		n := copy(frame, s.fallback[off:])
		for i := n; i < audio.FrameBytes; i++ {
			frame[i] = ulawSilence
		}
		select {
		case <-ctx.Done():
			return
		case out <- frame:
		}
	}
}
