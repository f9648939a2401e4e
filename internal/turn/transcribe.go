package turn

import (
	"context"
	"strings"
	"unicode"

	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/provider/stt"
)

// minUtteranceMs is the shortest utterance worth transcribing. Anything
// shorter is a click or a breath; rejecting it locally saves a service call.
const minUtteranceMs = 200

// Transcriber buffers one detected utterance, resamples it to the speech
// rate, and obtains text from the speech-to-text provider. Results that pass
// the provider but fail the gibberish filter come back as rejected, so the
// state machine asks the caller to repeat instead of feeding noise to the
// dialogue model.
type Transcriber struct {
	provider stt.Provider
	language string
}

// NewTranscriber creates a Transcriber. language is the BCP-47 recognition
// hint forwarded to the provider.
func NewTranscriber(provider stt.Provider, language string) *Transcriber {
	return &Transcriber{provider: provider, language: language}
}

// Transcribe converts one utterance of telephony-rate PCM16 to text. All
// failure modes are reported through the result status; it never panics and
// calls the provider at most once.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) stt.Result {
	samples := len(pcm) / 2
	if samples*1000/audio.TelephonyRate < minUtteranceMs {
		return stt.Result{Status: stt.StatusRejected}
	}

	wide := audio.ResampleMono16(pcm, audio.TelephonyRate, audio.SpeechRate)
	res := t.provider.Transcribe(ctx, wide, stt.Config{
		SampleRate: audio.SpeechRate,
		Language:   t.language,
	})
	if res.Status == stt.StatusOK && isGibberish(res.Text) {
		return stt.Result{Status: stt.StatusRejected}
	}
	return res
}

// isGibberish reports whether a transcription is unusable: near-empty or
// dominated by punctuation rather than words.
func isGibberish(text string) bool {
	text = strings.TrimSpace(text)
	var letters, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters++
		}
	}
	if letters < 2 {
		return true
	}
	return letters*10 < total*3
}
