package bridge

import (
	"context"
	"log/slog"

	"github.com/KremlinV1/11Wire-sub002/pkg/provider/stt"
)

// Correlator routes asynchronous transcription callbacks to the session
// that submitted the audio. Results for calls whose session has already
// ended are dropped; duplicate deliveries are absorbed by the session's
// request-id dedupe.
type Correlator struct {
	registry *Registry
	log      *slog.Logger
}

// NewCorrelator creates a correlator over the given session registry.
func NewCorrelator(registry *Registry, log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{registry: registry, log: log}
}

// Handle delivers one transcription result to its owning session.
func (c *Correlator) Handle(ctx context.Context, res stt.Result) {
	if res.CallID == "" {
		c.log.Debug("transcription result without call id", "request_id", res.RequestID)
		return
	}
	session := c.registry.Get(res.CallID)
	if session == nil {
		c.log.Debug("transcription result for ended session",
			"call_sid", res.CallID, "request_id", res.RequestID)
		return
	}
	session.HandleSTTResult(ctx, res)
}
