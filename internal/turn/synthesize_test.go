package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/provider/tts"
	ttsmock "github.com/voxline-ai/voxline/pkg/provider/tts/mock"
)

func collectFrames(t *testing.T, ch <-chan []byte) [][]byte {
	t.Helper()
	var frames [][]byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatalf("frame stream did not close; got %d frames", len(frames))
		}
	}
}

func TestSynthesizer_FramesReply(t *testing.T) {
	provider := &ttsmock.Provider{Chunks: [][]byte{pcmForFrames(3)}}
	s := NewSynthesizer(provider, tts.VoiceProfile{ID: "voice-1"}, nil)

	frames := collectFrames(t, s.Synthesize(context.Background(), "שלום"))
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, frame := range frames {
		if len(frame) != audio.FrameBytes {
			t.Errorf("frame %d is %d bytes, want %d", i, len(frame), audio.FrameBytes)
		}
	}
	if provider.SynthesizeCalls[0].Text != "שלום" {
		t.Errorf("synthesised %q", provider.SynthesizeCalls[0].Text)
	}
}

func TestSynthesizer_PadsFinalPartialFrame(t *testing.T) {
	// 100 speech-rate samples become 50 telephony samples, under one frame.
	provider := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 200)}}
	s := NewSynthesizer(provider, tts.VoiceProfile{}, nil)

	frames := collectFrames(t, s.Synthesize(context.Background(), "כן"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	frame := frames[0]
	if len(frame) != audio.FrameBytes {
		t.Fatalf("frame is %d bytes, want %d", len(frame), audio.FrameBytes)
	}
	for i := 50; i < audio.FrameBytes; i++ {
		if frame[i] != ulawSilence {
			t.Fatalf("byte %d = %#x, want silence padding", i, frame[i])
		}
	}
}

func TestSynthesizer_ReassemblesSplitSamples(t *testing.T) {
	// One PCM sample split across two chunks must not shift the stream.
	pcm := pcmForFrames(2)
	provider := &ttsmock.Provider{Chunks: [][]byte{pcm[:641], pcm[641:]}}
	s := NewSynthesizer(provider, tts.VoiceProfile{}, nil)

	frames := collectFrames(t, s.Synthesize(context.Background(), "טוב"))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestSynthesizer_FallbackOnStartFailure(t *testing.T) {
	fallback := make([]byte, audio.FrameBytes+40)
	provider := &ttsmock.Provider{Err: errors.New("unreachable")}
	s := NewSynthesizer(provider, tts.VoiceProfile{}, fallback)

	frames := collectFrames(t, s.Synthesize(context.Background(), "שלום"))
	if len(frames) != 2 {
		t.Fatalf("got %d fallback frames, want 2", len(frames))
	}
	if len(frames[1]) != audio.FrameBytes {
		t.Fatalf("padded fallback frame is %d bytes", len(frames[1]))
	}
}

func TestSynthesizer_FallbackOnEmptyStream(t *testing.T) {
	fallback := make([]byte, audio.FrameBytes)
	provider := &ttsmock.Provider{} // stream closes without audio
	s := NewSynthesizer(provider, tts.VoiceProfile{}, fallback)

	frames := collectFrames(t, s.Synthesize(context.Background(), "שלום"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want the fallback frame", len(frames))
	}
}

func TestSynthesizer_NoFallbackConfigured(t *testing.T) {
	provider := &ttsmock.Provider{Err: errors.New("unreachable")}
	s := NewSynthesizer(provider, tts.VoiceProfile{}, nil)

	if frames := collectFrames(t, s.Synthesize(context.Background(), "שלום")); len(frames) != 0 {
		t.Fatalf("got %d frames, want none", len(frames))
	}
}

func TestSynthesizer_StopsOnCancel(t *testing.T) {
	provider := &ttsmock.Provider{Chunks: [][]byte{pcmForFrames(100)}}
	s := NewSynthesizer(provider, tts.VoiceProfile{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Synthesize(ctx, "שלום")
	<-ch
	cancel()

	// The channel must close without requiring the consumer to drain it.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame stream did not close after cancel")
		}
	}
}
