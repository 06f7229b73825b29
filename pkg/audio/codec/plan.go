package codec

import "fmt"

// Encoding names as they appear in telephony media-format descriptors.
const (
	EncodingULaw = "mulaw"
	EncodingALaw = "alaw"
	EncodingPCM  = "pcm"
)

// Format describes the shape of an audio stream on one leg of a call.
type Format struct {
	Encoding   string
	SampleRate int
	Channels   int
	BitDepth   int
}

// STTTarget is the format every inbound leg is normalised to before audio is
// batched for transcription: linear PCM, 16 kHz, mono, 16-bit.
var STTTarget = Format{Encoding: EncodingPCM, SampleRate: 16000, Channels: 1, BitDepth: 16}

// Step is one stage of a conversion path.
type Step int

const (
	// StepULawToPCM expands μ-law to 16-bit linear PCM at the source rate.
	StepULawToPCM Step = iota
	// StepALawToPCM expands A-law to 16-bit linear PCM at the source rate.
	StepALawToPCM
	// StepResample changes the sample rate (and bit depth, when they differ).
	StepResample
	// StepBitDepth changes only the bit depth.
	StepBitDepth
)

// String returns the wire name of a step, matching the descriptor vocabulary.
func (s Step) String() string {
	switch s {
	case StepULawToPCM:
		return "mulaw→pcm"
	case StepALawToPCM:
		return "alaw→pcm"
	case StepResample:
		return "resample"
	case StepBitDepth:
		return "bit_depth"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Plan is the ordered conversion path from a source format to a target.
// It is computed once per session, on the first media frame, and then applied
// to every subsequent frame.
type Plan struct {
	Steps  []Step
	src    Format
	target Format
}

// NewPlan computes the conversion path from src to target. When the source
// already matches the target the returned plan is empty and Apply passes
// frames through untouched.
func NewPlan(src, target Format) (Plan, error) {
	p := Plan{src: src, target: target}

	cur := src
	switch src.Encoding {
	case EncodingULaw:
		p.Steps = append(p.Steps, StepULawToPCM)
		cur.Encoding = EncodingPCM
		cur.BitDepth = 16
	case EncodingALaw:
		p.Steps = append(p.Steps, StepALawToPCM)
		cur.Encoding = EncodingPCM
		cur.BitDepth = 16
	case EncodingPCM, "":
		cur.Encoding = EncodingPCM
	default:
		return Plan{}, fmt.Errorf("codec: unsupported encoding %q", src.Encoding)
	}

	if cur.SampleRate != target.SampleRate {
		p.Steps = append(p.Steps, StepResample)
	} else if cur.BitDepth != target.BitDepth {
		p.Steps = append(p.Steps, StepBitDepth)
	}
	return p, nil
}

// Empty reports whether the plan is a pass-through.
func (p Plan) Empty() bool { return len(p.Steps) == 0 }

// Apply runs every step of the plan over buf and returns the converted audio.
// An empty buffer returns an empty buffer.
func (p Plan) Apply(buf []byte) []byte {
	if len(buf) == 0 {
		return []byte{}
	}
	cur := p.src
	for _, step := range p.Steps {
		switch step {
		case StepULawToPCM:
			buf = DecodeULaw(buf)
			cur.Encoding = EncodingPCM
			cur.BitDepth = 16
		case StepALawToPCM:
			buf = DecodeALaw(buf)
			cur.Encoding = EncodingPCM
			cur.BitDepth = 16
		case StepResample:
			buf = Resample(buf, cur.SampleRate, p.target.SampleRate, cur.BitDepth, p.target.BitDepth)
			cur.SampleRate = p.target.SampleRate
			cur.BitDepth = p.target.BitDepth
		case StepBitDepth:
			buf = ConvertBitDepth(buf, cur.BitDepth, p.target.BitDepth)
			cur.BitDepth = p.target.BitDepth
		}
	}
	return buf
}
