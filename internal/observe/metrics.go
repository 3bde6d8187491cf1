// Package observe provides application-wide observability primitives for
// Narrata: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Narrata metrics.
const meterName = "github.com/MrWong99/narrata"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TTSDuration tracks single-chunk synthesis latency. Use with attribute:
	//   attribute.String("provider", ...)
	TTSDuration metric.Float64Histogram

	// BatchDuration tracks how long one batch takes from dispatch until all of
	// its outcomes are applied.
	BatchDuration metric.Float64Histogram

	// CooldownDuration tracks time spent waiting between batches.
	CooldownDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ChunksProcessed counts chunks reaching a terminal state. Use with attribute:
	//   attribute.String("status", "completed"|"failed")
	ChunksProcessed metric.Int64Counter

	// BatchesProcessed counts batches whose outcomes were applied.
	BatchesProcessed metric.Int64Counter

	// AudioBytes counts synthesised audio bytes. Use with attribute:
	//   attribute.String("provider", ...)
	AudioBytes metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of in-memory generation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// InFlightChunks tracks synthesis calls currently outstanding.
	InFlightChunks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for vendor
// synthesis calls, which range from sub-second to a couple of minutes.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120,
}

// batchBuckets covers batch and cooldown durations.
var batchBuckets = []float64{
	1, 5, 10, 30, 60, 65, 90, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("narrata.tts.duration",
		metric.WithDescription("Latency of single-chunk text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BatchDuration, err = m.Float64Histogram("narrata.batch.duration",
		metric.WithDescription("Time from batch dispatch until all outcomes are applied."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(batchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CooldownDuration, err = m.Float64Histogram("narrata.batch.cooldown",
		metric.WithDescription("Time spent waiting between batches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(batchBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("narrata.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ChunksProcessed, err = m.Int64Counter("narrata.chunks",
		metric.WithDescription("Total chunks reaching a terminal state by status."),
	); err != nil {
		return nil, err
	}
	if met.BatchesProcessed, err = m.Int64Counter("narrata.batches",
		metric.WithDescription("Total batches whose outcomes were applied."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("narrata.audio.bytes",
		metric.WithDescription("Total synthesised audio bytes by provider."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("narrata.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("narrata.active_sessions",
		metric.WithDescription("Number of in-memory generation sessions."),
	); err != nil {
		return nil, err
	}
	if met.InFlightChunks, err = m.Int64UpDownCounter("narrata.in_flight_chunks",
		metric.WithDescription("Number of outstanding synthesis calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("narrata.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordChunk records a chunk reaching the terminal status.
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.ChunksProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
