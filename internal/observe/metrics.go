// Package observe provides application-wide observability primitives for the
// read-along server: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served at /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all read-along metrics.
const meterName = "github.com/MrWong99/readalong"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTStartDuration tracks how long opening a recognition stream takes.
	STTStartDuration metric.Float64Histogram

	// QuizDuration tracks end-to-end quiz generation latency.
	QuizDuration metric.Float64Histogram

	// --- Reading progress ---

	// TranscriptEvents counts recognizer results. Use with attribute:
	//   attribute.String("finality", "partial"|"final")
	TranscriptEvents metric.Int64Counter

	// WordsRecognized counts cursor advances across all sessions.
	WordsRecognized metric.Int64Counter

	// MatchConfidence records the confidence of every accepted word.
	MatchConfidence metric.Float64Histogram

	// PassagesCompleted counts readings that reached the last word. Use with
	// attribute:
	//   attribute.String("rating", ...)
	PassagesCompleted metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks open read-along WebSocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveSessions tracks sessions currently in the listening state.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled
	// with method, route pattern and status code. WebSocket connections are
	// recorded once, when they close.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// confidenceBuckets spans the matcher's [0, 1] confidence range around the
// default threshold.
var confidenceBuckets = []float64{
	0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTStartDuration, err = m.Float64Histogram("readalong.stt.start.duration",
		metric.WithDescription("Latency of opening a speech recognition stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QuizDuration, err = m.Float64Histogram("readalong.quiz.duration",
		metric.WithDescription("Latency of comprehension quiz generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TranscriptEvents, err = m.Int64Counter("readalong.transcript.events",
		metric.WithDescription("Recognizer results by finality."),
	); err != nil {
		return nil, err
	}
	if met.WordsRecognized, err = m.Int64Counter("readalong.words.recognized",
		metric.WithDescription("Expected words matched by readers."),
	); err != nil {
		return nil, err
	}
	if met.MatchConfidence, err = m.Float64Histogram("readalong.match.confidence",
		metric.WithDescription("Confidence of accepted word matches."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PassagesCompleted, err = m.Int64Counter("readalong.passages.completed",
		metric.WithDescription("Passages read to the last word, by rating."),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("readalong.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("readalong.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("readalong.active_connections",
		metric.WithDescription("Number of open read-along connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("readalong.active_sessions",
		metric.WithDescription("Number of sessions currently listening."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("readalong.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTranscript counts one recognizer result.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	finality := "partial"
	if final {
		finality = "final"
	}
	m.TranscriptEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("finality", finality)))
}

// RecordWordRecognized counts one cursor advance and its match confidence.
func (m *Metrics) RecordWordRecognized(ctx context.Context, confidence float64) {
	m.WordsRecognized.Add(ctx, 1)
	m.MatchConfidence.Record(ctx, confidence)
}

// RecordPassageCompleted counts a finished passage by rating band.
func (m *Metrics) RecordPassageCompleted(ctx context.Context, rating string) {
	m.PassagesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("rating", rating)))
}
