package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/observe"
)

// fallbackSecret signs webhook bodies when no secret is configured.
// Receivers in that state get a well-known key, so the deployment should
// always set one.
const fallbackSecret = "default-secret"

const postTimeout = 5 * time.Second

// WebhookSink forwards bus events to external HTTP endpoints. Delivery is
// at-most-once: failures are logged and never retried.
type WebhookSink struct {
	log     *slog.Logger
	metrics *observe.Metrics
	client  *http.Client
	secret  []byte
}

// NewWebhookSink creates a sink signing with the given secret. An empty
// secret falls back to a well-known default and logs a warning.
func NewWebhookSink(secret string, log *slog.Logger) *WebhookSink {
	if log == nil {
		log = slog.Default()
	}
	if secret == "" {
		log.Warn("webhook signing secret not configured, using default secret")
		secret = fallbackSecret
	}
	return &WebhookSink{
		log:     log,
		metrics: observe.DefaultMetrics(),
		secret:  []byte(secret),
		client: &http.Client{
			Timeout: postTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 2 {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		},
	}
}

// Register subscribes the sink on bus for each listed event type and
// returns the subscription handles. Each matching event is POSTed to url
// from a detached goroutine so slow endpoints never block the bus.
func (s *WebhookSink) Register(bus *Bus, url string, eventTypes []string, filter Filter) []string {
	ids := make([]string, 0, len(eventTypes))
	for _, et := range eventTypes {
		ids = append(ids, bus.Subscribe(et, func(ctx context.Context, ev Event) {
			go s.post(url, ev)
		}, filter))
	}
	return ids
}

func (s *WebhookSink) post(url string, ev Event) {
	body, err := EncodeBody(ev)
	if err != nil {
		s.log.Error("webhook body encode failed", "event", ev.Type, "url", url, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.log.Error("webhook request build failed", "event", ev.Type, "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", ev.Type)
	req.Header.Set("X-Signature", Sign(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.RecordWebhookPost(ctx, ev.Type, "error")
		s.log.Warn("webhook delivery failed",
			"event", ev.Type, "url", url, "call_sid", ev.CallSID, "error", err)
		return
	}
	resp.Body.Close()

	s.metrics.RecordWebhookPost(ctx, ev.Type, strconv.Itoa(resp.StatusCode))
	if resp.StatusCode >= 300 {
		s.log.Warn("webhook delivery rejected",
			"event", ev.Type, "url", url, "call_sid", ev.CallSID, "status", resp.StatusCode)
	}
}

// EncodeBody builds the webhook JSON body: the event payload flattened
// into one object together with the envelope fields. Envelope fields win
// on key collisions.
func EncodeBody(ev Event) ([]byte, error) {
	body := make(map[string]any, len(ev.Payload)+4)
	for k, v := range ev.Payload {
		body[k] = v
	}
	body["event"] = ev.Type
	body["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	if ev.CallSID != "" {
		body["callSid"] = ev.CallSID
	}
	if ev.CampaignID != "" {
		body["campaignId"] = ev.CampaignID
	}
	return json.Marshal(body)
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret, the
// value carried in the X-Signature header.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
