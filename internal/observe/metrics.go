// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, tracing helpers, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the optional /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/parley-ai/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture pipeline ---

	// CaptureFrames counts microphone frames queued for transmission.
	CaptureFrames metric.Int64Counter

	// CaptureDrops counts frames discarded because the outbound queue was
	// full.
	CaptureDrops metric.Int64Counter

	// --- Playback scheduler ---

	// PlaybackScheduled counts inbound chunks successfully scheduled.
	PlaybackScheduled metric.Int64Counter

	// PlaybackResyncs counts cursor resynchronisations: chunks that arrived
	// after everything scheduled had already finished playing.
	PlaybackResyncs metric.Int64Counter

	// PlaybackDecodeErrors counts inbound chunks skipped because they could
	// not be decoded.
	PlaybackDecodeErrors metric.Int64Counter

	// PlaybackLead tracks how far ahead of the output clock each chunk was
	// scheduled, in seconds. Zero lead means playback is keeping exact pace
	// with arrival; large lead means audio is buffered ahead.
	PlaybackLead metric.Float64Histogram

	// --- Live sessions ---

	// ConnectDuration tracks live-session handshake latency. Use with
	// attribute.String("backend", ...).
	ConnectDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Chat ---

	// ChatStreamDuration tracks full response-stream latency per turn. Use
	// with attribute.String("backend", ...).
	ChatStreamDuration metric.Float64Histogram

	// ChatTokens counts tokens by direction. Use with
	// attribute.String("kind", "prompt"|"completion").
	ChatTokens metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// interactive model calls: handshakes, stream turns.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// leadBuckets defines bucket boundaries (in seconds) for the playback lead
// histogram. Leads are short by construction: chunks play within a few
// hundred milliseconds of arrival unless delivery is bursty.
var leadBuckets = []float64{
	0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.CaptureFrames, err = m.Int64Counter("parley.capture.frames",
		metric.WithDescription("Total microphone frames queued for transmission."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDrops, err = m.Int64Counter("parley.capture.drops",
		metric.WithDescription("Total microphone frames dropped because the outbound queue was full."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.PlaybackScheduled, err = m.Int64Counter("parley.playback.scheduled",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackResyncs, err = m.Int64Counter("parley.playback.resyncs",
		metric.WithDescription("Total playback cursor resynchronisations after an arrival stall."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDecodeErrors, err = m.Int64Counter("parley.playback.decode_errors",
		metric.WithDescription("Total inbound audio chunks skipped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLead, err = m.Float64Histogram("parley.playback.lead",
		metric.WithDescription("Scheduled start time minus output clock time per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}

	// Live sessions.
	if met.ConnectDuration, err = m.Float64Histogram("parley.live.connect.duration",
		metric.WithDescription("Live session handshake latency by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.live.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Chat.
	if met.ChatStreamDuration, err = m.Float64Histogram("parley.chat.stream.duration",
		metric.WithDescription("Full response-stream latency per chat turn by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatTokens, err = m.Int64Counter("parley.chat.tokens",
		metric.WithDescription("Total tokens exchanged, by kind (prompt or completion)."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// RecordPlayback records one scheduling outcome: the chunk's lead over the
// output clock and whether the cursor had to resynchronise first.
func (m *Metrics) RecordPlayback(ctx context.Context, lead float64, resynced bool) {
	m.PlaybackScheduled.Add(ctx, 1)
	m.PlaybackLead.Record(ctx, lead)
	if resynced {
		m.PlaybackResyncs.Add(ctx, 1)
	}
}

// RecordChatTurn records the stream latency and token usage of one chat turn.
func (m *Metrics) RecordChatTurn(ctx context.Context, backend string, seconds float64, promptTokens, completionTokens int) {
	m.ChatStreamDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
	if promptTokens > 0 {
		m.ChatTokens.Add(ctx, int64(promptTokens),
			metric.WithAttributes(attribute.String("kind", "prompt")),
		)
	}
	if completionTokens > 0 {
		m.ChatTokens.Add(ctx, int64(completionTokens),
			metric.WithAttributes(attribute.String("kind", "completion")),
		)
	}
}
