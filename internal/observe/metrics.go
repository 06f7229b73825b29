// Package observe provides application-wide observability primitives for the
// dialer: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dialer metrics.
const meterName = "github.com/KremlinV1/11Wire-sub002"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTSubmitDuration tracks async speech-to-text submission latency.
	STTSubmitDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech stream duration, first byte to done.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// CallsDispatched counts outbound calls placed. Use with attribute:
	//   attribute.String("campaign_id", ...)
	CallsDispatched metric.Int64Counter

	// CallOutcomes counts terminal queue-entry outcomes. Use with attributes:
	//   attribute.String("campaign_id", ...), attribute.String("status", ...)
	CallOutcomes metric.Int64Counter

	// EventsPublished counts events put on the internal bus. Use with
	// attribute: attribute.String("topic", ...)
	EventsPublished metric.Int64Counter

	// WebhookPosts counts outbound webhook deliveries. Use with attributes:
	//   attribute.String("event", ...), attribute.String("status", ...)
	WebhookPosts metric.Int64Counter

	// FramesDropped counts inbound media frames discarded before processing.
	// Use with attribute: attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions records the current number of live audio bridge
	// sessions. Callers record the absolute count after each change.
	ActiveSessions metric.Int64Gauge

	// QueueDepth records the number of dispatchable queue entries per
	// campaign, as counted during each scheduling pass.
	QueueDepth metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTSubmitDuration, err = m.Float64Histogram("dialer.stt.submit.duration",
		metric.WithDescription("Latency of async speech-to-text submissions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("dialer.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("dialer.tts.duration",
		metric.WithDescription("Duration of text-to-speech streaming."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsDispatched, err = m.Int64Counter("dialer.calls.dispatched",
		metric.WithDescription("Total outbound calls placed, by campaign."),
	); err != nil {
		return nil, err
	}
	if met.CallOutcomes, err = m.Int64Counter("dialer.calls.outcomes",
		metric.WithDescription("Terminal queue-entry outcomes by campaign and status."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("dialer.events.published",
		metric.WithDescription("Events published on the internal bus, by topic."),
	); err != nil {
		return nil, err
	}
	if met.WebhookPosts, err = m.Int64Counter("dialer.webhooks.posts",
		metric.WithDescription("Outbound webhook deliveries by event and status."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("dialer.media.frames_dropped",
		metric.WithDescription("Inbound media frames discarded before processing, by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64Gauge("dialer.active_sessions",
		metric.WithDescription("Number of live audio bridge sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("dialer.queue.depth",
		metric.WithDescription("Scheduled queue entries per campaign."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dialer.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCallDispatched records a placed outbound call.
func (m *Metrics) RecordCallDispatched(ctx context.Context, campaignID string) {
	m.CallsDispatched.Add(ctx, 1,
		metric.WithAttributes(attribute.String("campaign_id", campaignID)),
	)
}

// RecordCallOutcome records a terminal queue-entry outcome.
func (m *Metrics) RecordCallOutcome(ctx context.Context, campaignID, status string) {
	m.CallOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("campaign_id", campaignID),
			attribute.String("status", status),
		),
	)
}

// RecordEventPublished records one event published on the internal bus.
func (m *Metrics) RecordEventPublished(ctx context.Context, topic string) {
	m.EventsPublished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("topic", topic)),
	)
}

// RecordWebhookPost records one outbound webhook delivery attempt.
func (m *Metrics) RecordWebhookPost(ctx context.Context, event, status string) {
	m.WebhookPosts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event", event),
			attribute.String("status", status),
		),
	)
}

// RecordFrameDropped records one discarded inbound media frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
