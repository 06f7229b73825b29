// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// StreamSpeech, which synthesises one utterance and delivers encoded audio
// chunks through a callback as they become available, so the first chunk can
// be on the wire to the callee before synthesis of the full reply finishes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// OutputFormat names an audio encoding the synthesis service can emit.
// Telephony legs take the G.711 formats directly; pcm_16000 is for
// consumers that post-process the audio themselves.
type OutputFormat string

const (
	FormatULaw8000 OutputFormat = "ulaw_8000"
	FormatALaw8000 OutputFormat = "alaw_8000"
	FormatPCM16000 OutputFormat = "pcm_16000"
)

// StreamRequest describes one utterance to synthesise.
type StreamRequest struct {
	// Text is the complete text of the utterance.
	Text string

	// VoiceID selects the voice (provider-specific id).
	VoiceID string

	// OutputFormat is the desired audio encoding. Implementations fall back
	// to a provider default when empty.
	OutputFormat OutputFormat

	// OnChunk is invoked for every audio chunk, in order, from a single
	// goroutine. It must not block for long; slow consumers stall the stream.
	OnChunk func(audio []byte)

	// OnDone is invoked exactly once when the stream ends: with nil after
	// the final chunk, or with the error that terminated synthesis early.
	OnDone func(err error)
}

// Stream is a handle on an in-flight synthesis.
type Stream interface {
	// Close aborts the stream. Closing an already-finished stream is a
	// no-op; OnDone is still invoked at most once.
	Close() error
}

// Provider is the abstraction over any streaming TTS backend.
//
// Multiple synthesis requests may run in parallel (one per active call).
type Provider interface {
	// StreamSpeech starts synthesising req.Text and returns a handle on the
	// stream. Audio is delivered through req.OnChunk and completion through
	// req.OnDone. A non-nil error means the stream never started and OnDone
	// will not be called.
	StreamSpeech(ctx context.Context, req StreamRequest) (Stream, error)
}
