package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/provider/stt"
	sttmock "github.com/voxline-ai/voxline/pkg/provider/stt/mock"
)

// pcmOfMs returns telephony-rate PCM16 of the given duration.
func pcmOfMs(ms int) []byte {
	return make([]byte, audio.TelephonyRate*ms/1000*2)
}

func TestTranscriber_RejectsShortUtteranceLocally(t *testing.T) {
	provider := &sttmock.Provider{Result: stt.Result{Status: stt.StatusOK, Text: "שלום"}}
	tr := NewTranscriber(provider, "he")

	res := tr.Transcribe(context.Background(), pcmOfMs(100))
	if res.Status != stt.StatusRejected {
		t.Fatalf("status = %v, want rejected", res.Status)
	}
	if provider.CallCount() != 0 {
		t.Fatalf("provider invoked %d times for a sub-minimum utterance, want 0", provider.CallCount())
	}
}

func TestTranscriber_ResamplesToSpeechRate(t *testing.T) {
	provider := &sttmock.Provider{Result: stt.Result{Status: stt.StatusOK, Text: "שלום רב"}}
	tr := NewTranscriber(provider, "he")

	res := tr.Transcribe(context.Background(), pcmOfMs(500))
	if res.Status != stt.StatusOK || res.Text != "שלום רב" {
		t.Fatalf("result = %+v", res)
	}

	call := provider.TranscribeCalls[0]
	if call.Cfg.SampleRate != audio.SpeechRate {
		t.Errorf("sample rate = %d, want %d", call.Cfg.SampleRate, audio.SpeechRate)
	}
	if call.Cfg.Language != "he" {
		t.Errorf("language = %q, want he", call.Cfg.Language)
	}
	// 500ms at the speech rate, doubled from the telephony input.
	if want := audio.SpeechRate / 2 * 2; len(call.PCM) != want {
		t.Errorf("pcm = %d bytes, want %d", len(call.PCM), want)
	}
}

func TestTranscriber_FiltersGibberish(t *testing.T) {
	tests := []struct {
		name string
		text string
		want stt.Status
	}{
		{"normal hebrew", "אני מחפש דירה", stt.StatusOK},
		{"single letter", "ש", stt.StatusRejected},
		{"punctuation only", "... --- !!!", stt.StatusRejected},
		{"punctuation dominated", "ab .......... !!!", stt.StatusRejected},
		{"empty", "", stt.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &sttmock.Provider{Result: stt.Result{Status: stt.StatusOK, Text: tt.text}}
			tr := NewTranscriber(provider, "he")
			if res := tr.Transcribe(context.Background(), pcmOfMs(500)); res.Status != tt.want {
				t.Errorf("Transcribe(%q) status = %v, want %v", tt.text, res.Status, tt.want)
			}
		})
	}
}

func TestTranscriber_PassesThroughFailure(t *testing.T) {
	cause := errors.New("connection refused")
	provider := &sttmock.Provider{Result: stt.Result{Status: stt.StatusFailed, Err: cause}}
	tr := NewTranscriber(provider, "he")

	res := tr.Transcribe(context.Background(), pcmOfMs(500))
	if res.Status != stt.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if !errors.Is(res.Err, cause) {
		t.Errorf("err = %v, want the provider cause", res.Err)
	}
}
