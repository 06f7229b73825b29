// Package codec implements the audio transcoding kernel for telephony media:
// G.711 μ-law and A-law companding, integer-ratio resampling, and 8↔16 bit
// depth conversion. All functions are pure transformations over byte buffers
// and perform no I/O; an empty input always yields an empty output.
//
// The decode direction is table-driven: both companded formats map each of
// their 256 byte values to a fixed 16-bit linear sample, so the tables are
// precomputed at package init and decoding is a single lookup per byte.
package codec

// G.711 μ-law constants (ITU-T G.711, Sun reference implementation).
const (
	ulawBias = 0x84 // 33 << 2, applied in the 16-bit linear domain
	ulawClip = 32635
)

var (
	ulawTable [256]int16
	alawTable [256]int16
)

func init() {
	for i := range 256 {
		ulawTable[i] = decodeULawSample(byte(i))
		alawTable[i] = decodeALawSample(byte(i))
	}
}

// decodeULawSample expands a single μ-law byte to a 16-bit linear sample.
// Used only to build the lookup table.
//
// The negative zero code 0x7F decodes to -1 rather than 0. Linear PCM has no
// -0, and collapsing both zero codes onto 0 would make the table
// non-injective: 0x7F could never survive an encode round trip.
func decodeULawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	t := ((int32(mantissa)<<3 + ulawBias) << exponent) - ulawBias
	if sign != 0 {
		if t == 0 {
			return -1
		}
		t = -t
	}
	return int16(t)
}

// decodeALawSample expands a single A-law byte to a 16-bit linear sample.
// Used only to build the lookup table.
func decodeALawSample(a byte) int16 {
	a ^= 0x55
	t := int16(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return t
	}
	return -t
}

// DecodeULaw expands μ-law companded bytes to little-endian 16-bit linear PCM.
// The output carries one sample (two bytes) per input byte. The negative zero
// code 0x7F decodes to -1 so every code word round-trips through
// [EncodeULawSample].
func DecodeULaw(buf []byte) []byte {
	out := make([]byte, len(buf)*2)
	for i, b := range buf {
		s := ulawTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodeALaw expands A-law companded bytes to little-endian 16-bit linear PCM.
// The output carries one sample (two bytes) per input byte.
func DecodeALaw(buf []byte) []byte {
	out := make([]byte, len(buf)*2)
	for i, b := range buf {
		s := alawTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeULawSample compresses one 16-bit linear sample to a μ-law byte.
func EncodeULawSample(s int16) byte {
	v := int32(s)
	sign := byte(0)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias
	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// segAend holds the A-law segment end values in the 13-bit domain.
var segAend = [8]int32{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// EncodeALawSample compresses one 16-bit linear sample to an A-law byte.
func EncodeALawSample(s int16) byte {
	v := int32(s) >> 3
	var mask byte
	if v >= 0 {
		mask = 0xD5
	} else {
		mask = 0x55
		v = -v - 1
	}
	seg := 8
	for i, end := range segAend {
		if v <= end {
			seg = i
			break
		}
	}
	if seg >= 8 {
		return 0x7F ^ mask
	}
	aval := byte(seg << 4)
	if seg < 2 {
		aval |= byte((v >> 1) & 0x0F)
	} else {
		aval |= byte((v >> seg) & 0x0F)
	}
	return aval ^ mask
}

// EncodeULaw compresses little-endian 16-bit linear PCM to μ-law bytes.
// Odd trailing bytes are ignored.
func EncodeULaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeULawSample(s)
	}
	return out
}

// EncodeALaw compresses little-endian 16-bit linear PCM to A-law bytes.
// Odd trailing bytes are ignored.
func EncodeALaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeALawSample(s)
	}
	return out
}
