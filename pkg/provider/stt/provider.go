// Package stt defines the Provider interface for asynchronous speech-to-text
// backends.
//
// Unlike a streaming recogniser, an async provider accepts a complete audio
// blob (WAV-wrapped PCM), returns a request id immediately, and delivers the
// transcription later through an HTTP webhook. The audio bridge batches call
// audio into windows and submits each window as one request; the result
// webhook is correlated back to the originating call by call id.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by constructors when credentials or the
// webhook URL are missing. Sessions created without a working STT provider
// continue without transcription; the call itself is never aborted for this.
var ErrNotConfigured = errors.New("stt: provider not configured")

// SubmitRequest is one window of call audio submitted for transcription.
type SubmitRequest struct {
	// Audio is the complete audio blob, WAV-wrapped 16 kHz mono 16-bit PCM.
	Audio []byte

	// CallID correlates the eventual webhook result back to the call.
	CallID string

	// Languages lists the expected output languages (e.g., ["en"]).
	Languages []string

	// WebhookURL is where the provider posts the transcription result.
	WebhookURL string

	// Metadata is opaque data echoed back in the webhook payload.
	Metadata map[string]any
}

// Submission acknowledges an accepted async request.
type Submission struct {
	// RequestID is the provider-assigned id for this transcription request.
	RequestID string
}

// Result is the transcription payload delivered to the webhook endpoint.
type Result struct {
	RequestID string `json:"request_id"`
	CallID    string `json:"call_id"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	IsFinal   bool   `json:"is_final"`
}

// Provider is the abstraction over any async STT backend.
type Provider interface {
	// SubmitAsync sends audio for transcription and returns the request id.
	// Callers bound the call with a context deadline (the bridge uses 10 s).
	SubmitAsync(ctx context.Context, req SubmitRequest) (*Submission, error)
}

// StatusError reports a non-2xx provider response. Use IsRetryable to decide
// whether the failure is transient.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("stt: provider returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status indicates a transient failure:
// 429 and all 5xx are retryable, every other 4xx is not.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// IsRetryable classifies an error from SubmitAsync. Timeouts, cancellations,
// and transport errors are treated as transient; permanent rejections are
// only those the provider explicitly signalled with a non-retryable status.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, ErrNotConfigured) {
		return false
	}
	return true
}
