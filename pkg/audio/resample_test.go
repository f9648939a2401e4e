package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxline-ai/voxline/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, audio.TelephonyRate, audio.TelephonyRate)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample8kTo16k(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 1000, 2000, 3000})
	out := audio.ResampleMono16(pcm, audio.TelephonyRate, audio.SpeechRate)
	got := bytesToSamples(out)
	if len(got) != 8 {
		t.Fatalf("sample count = %d, want 8", len(got))
	}
	// Interpolated midpoints sit between their neighbours.
	if got[1] < got[0] || got[1] > got[2] {
		t.Errorf("interpolated sample %d not between %d and %d", got[1], got[0], got[2])
	}
}

func TestResampleMono16_Downsample16kTo8k(t *testing.T) {
	in := make([]int16, 320) // one 20ms frame at 16 kHz
	for i := range in {
		in[i] = int16(i * 10)
	}
	out := audio.ResampleMono16(samplesToBytes(in), audio.SpeechRate, audio.TelephonyRate)
	if len(out)/2 != audio.FrameSamples {
		t.Fatalf("sample count = %d, want %d", len(out)/2, audio.FrameSamples)
	}
}

func TestResampleMono16_Empty(t *testing.T) {
	if out := audio.ResampleMono16(nil, 8000, 16000); len(out) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(out))
	}
}
