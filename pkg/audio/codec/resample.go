package codec

import (
	"log/slog"
	"sync"
)

// warnedBitDepth guards the single warning emitted for unsupported bit-depth
// conversions. Telephony legs only ever carry 8- or 16-bit samples, so
// anything else indicates a misconfigured provider rather than a hot path.
var warnedBitDepth sync.Once

// Resample converts PCM audio from srcHz/srcBits to dstHz/dstBits using
// nearest-neighbour sample selection. The quality is acceptable for telephony
// speech recognition; this is deliberately not a DSP-grade resampler.
//
// 8-bit samples are treated as unsigned (centred on 128), 16-bit samples as
// signed little-endian. An empty buffer returns an empty buffer.
func Resample(buf []byte, srcHz, dstHz, srcBits, dstBits int) []byte {
	if len(buf) == 0 {
		return []byte{}
	}
	if srcHz <= 0 || dstHz <= 0 {
		return buf
	}
	if srcHz == dstHz {
		return ConvertBitDepth(buf, srcBits, dstBits)
	}

	srcBytes := bytesPerSample(srcBits)
	dstBytes := bytesPerSample(dstBits)
	srcSamples := len(buf) / srcBytes
	dstSamples := int(int64(srcSamples) * int64(dstHz) / int64(srcHz))
	if dstSamples == 0 {
		return []byte{}
	}

	out := make([]byte, dstSamples*dstBytes)
	for i := range dstSamples {
		srcIdx := int(int64(i) * int64(srcHz) / int64(dstHz))
		if srcIdx >= srcSamples {
			srcIdx = srcSamples - 1
		}
		s := readSample(buf, srcIdx, srcBits)
		writeSample(out, i, dstBits, s)
	}
	return out
}

// ConvertBitDepth converts between 8-bit unsigned and 16-bit signed PCM.
// 8→16 recentres to signed and scales by 256; 16→8 divides by 256 and
// recentres to unsigned, clamped to [0, 255]. Any other combination returns
// the input unchanged after a single warning.
func ConvertBitDepth(buf []byte, srcBits, dstBits int) []byte {
	if len(buf) == 0 {
		return []byte{}
	}
	if srcBits == dstBits {
		return buf
	}
	switch {
	case srcBits == 8 && dstBits == 16:
		out := make([]byte, len(buf)*2)
		for i, b := range buf {
			s := (int16(b) - 128) * 256
			out[i*2] = byte(s)
			out[i*2+1] = byte(s >> 8)
		}
		return out
	case srcBits == 16 && dstBits == 8:
		n := len(buf) / 2
		out := make([]byte, n)
		for i := range n {
			s := int16(buf[i*2]) | int16(buf[i*2+1])<<8
			v := int(s)/256 + 128
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out[i] = byte(v)
		}
		return out
	default:
		warnedBitDepth.Do(func() {
			slog.Warn("unsupported bit depth conversion, passing audio through",
				"src_bits", srcBits,
				"dst_bits", dstBits,
			)
		})
		return buf
	}
}

func bytesPerSample(bits int) int {
	if bits <= 8 {
		return 1
	}
	return 2
}

// readSample returns the sample at index i as a signed 16-bit value,
// regardless of the source bit depth.
func readSample(buf []byte, i, bits int) int16 {
	if bits <= 8 {
		return (int16(buf[i]) - 128) * 256
	}
	return int16(buf[i*2]) | int16(buf[i*2+1])<<8
}

// writeSample stores a signed 16-bit value at index i in the target depth.
func writeSample(out []byte, i, bits int, s int16) {
	if bits <= 8 {
		v := int(s)/256 + 128
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		out[i] = byte(v)
		return
	}
	out[i*2] = byte(s)
	out[i*2+1] = byte(s >> 8)
}
