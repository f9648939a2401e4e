package audio

// G.711 μ-law codec. Decoding is a pure table lookup: the 256-entry table is
// built once at package init and shared read-only across all sessions.
// Encoding uses the standard segment search with a 256-entry exponent table.
//
// The codec is lossy overall, but for every byte value b,
// EncodeULawSample(DecodeULawSample(b)) returns a code that decodes to the
// same linear sample (the two zero codes 0x7F and 0xFF alias).

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// ulawDecodeTable maps each μ-law byte to its linear PCM16 sample.
var ulawDecodeTable [256]int16

// ulawSegmentTable maps the top 8 bits of a biased magnitude to its segment
// (exponent) number.
var ulawSegmentTable [256]uint8

func init() {
	for i := range ulawDecodeTable {
		u := ^uint8(i)
		t := (int32(u&0x0F) << 3) + ulawBias
		t <<= (u & 0x70) >> 4
		if u&0x80 != 0 {
			ulawDecodeTable[i] = int16(ulawBias - t)
		} else {
			ulawDecodeTable[i] = int16(t - ulawBias)
		}
	}
	for i := range ulawSegmentTable {
		seg := uint8(0)
		for v := i; v > 1; v >>= 1 {
			seg++
		}
		ulawSegmentTable[i] = seg
	}
}

// DecodeULawSample decodes one μ-law byte to a linear PCM16 sample.
// It is a pure table lookup, O(1).
func DecodeULawSample(u byte) int16 {
	return ulawDecodeTable[u]
}

// EncodeULawSample encodes one linear PCM16 sample to a μ-law byte.
func EncodeULawSample(s int16) byte {
	sign := uint8(0)
	v := int32(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias
	seg := ulawSegmentTable[(v>>7)&0xFF]
	mantissa := uint8(v>>(seg+3)) & 0x0F
	return ^(sign | seg<<4 | mantissa)
}

// DecodeULaw decodes a μ-law byte slice to little-endian PCM16. The output is
// exactly twice the length of the input.
func DecodeULaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := ulawDecodeTable[u]
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// EncodeULaw encodes little-endian PCM16 to μ-law. Input must have an even
// byte count; a trailing odd byte is ignored.
func EncodeULaw(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeULawSample(s)
	}
	return out
}
