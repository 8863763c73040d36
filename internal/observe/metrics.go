// Package observe provides application-wide observability primitives for the
// voice service: OpenTelemetry metrics, distributed tracing, trace-aware
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by [Handler] so
// that metrics can be scraped from /metrics. A package-level default
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

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/MrWong99/voicemimic"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks speech synthesis latency. Attribute: provider.
	SynthesisDuration metric.Float64Histogram

	// AdaptDuration tracks the voice adaptation transform.
	AdaptDuration metric.Float64Histogram

	// EnrollDuration tracks upload processing (decode, trim, embed).
	EnrollDuration metric.Float64Histogram

	// EmbedDuration tracks speaker embedding extraction. Attribute: model.
	EmbedDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path, status.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// AdaptOutcomes counts adaptation results. Attribute: outcome, either
	// "adapted" or the skip reason.
	AdaptOutcomes metric.Int64Counter

	// ProviderRequests counts provider calls. Attributes: provider, kind,
	// status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// Enrollments counts voice uploads. Attribute: status ("ok" or the
	// failure type).
	Enrollments metric.Int64Counter

	// SweptVoices counts expired voices removed by the sweeper.
	SweptVoices metric.Int64Counter

	// --- Gauges ---

	// ActiveRequests tracks in-flight HTTP requests.
	ActiveRequests metric.Int64UpDownCounter

	// CircuitState reports each breaker's state (0 closed, 1 open,
	// 2 half-open). Attribute: provider.
	CircuitState metric.Int64Gauge

	// StoredVoices reports the number of live voices after each sweep.
	StoredVoices metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// synthesis and DSP work.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.SynthesisDuration, err = histogram("voicemimic.synthesis.duration",
		"Latency of speech synthesis by provider."); err != nil {
		return nil, err
	}
	if met.AdaptDuration, err = histogram("voicemimic.adapt.duration",
		"Latency of the voice adaptation transform."); err != nil {
		return nil, err
	}
	if met.EnrollDuration, err = histogram("voicemimic.enroll.duration",
		"Latency of voice upload processing."); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = histogram("voicemimic.embed.duration",
		"Latency of speaker embedding extraction."); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicemimic.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AdaptOutcomes, err = m.Int64Counter("voicemimic.adapt.outcomes",
		metric.WithDescription("Voice adaptation results by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voicemimic.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicemimic.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Enrollments, err = m.Int64Counter("voicemimic.enrollments",
		metric.WithDescription("Voice uploads by status."),
	); err != nil {
		return nil, err
	}
	if met.SweptVoices, err = m.Int64Counter("voicemimic.voices.swept",
		metric.WithDescription("Expired voices removed by the sweeper."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveRequests, err = m.Int64UpDownCounter("voicemimic.http.active_requests",
		metric.WithDescription("Number of in-flight HTTP requests."),
	); err != nil {
		return nil, err
	}
	if met.CircuitState, err = m.Int64Gauge("voicemimic.circuit.state",
		metric.WithDescription("Circuit breaker state by provider: 0 closed, 1 open, 2 half-open."),
	); err != nil {
		return nil, err
	}
	if met.StoredVoices, err = m.Int64Gauge("voicemimic.voices.stored",
		metric.WithDescription("Number of live stored voices."),
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
// fails, which does not happen with the global provider.
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
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

// RecordAdaptOutcome records one adaptation result and its duration.
func (m *Metrics) RecordAdaptOutcome(ctx context.Context, outcome string, seconds float64) {
	m.AdaptOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.AdaptDuration.Record(ctx, seconds)
}

// RecordSynthesis records the duration of one synthesis served by provider.
func (m *Metrics) RecordSynthesis(ctx context.Context, provider string, seconds float64) {
	m.SynthesisDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordEmbed records the duration of one speaker embedding by model.
func (m *Metrics) RecordEmbed(ctx context.Context, model string, seconds float64) {
	m.EmbedDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("model", model)))
}

// RecordEnrollment records one voice upload with its status.
func (m *Metrics) RecordEnrollment(ctx context.Context, status string, seconds float64) {
	m.Enrollments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.EnrollDuration.Record(ctx, seconds)
}

// RecordCircuitState records the state of the breaker named provider. state
// follows resilience.State numbering.
func (m *Metrics) RecordCircuitState(ctx context.Context, provider string, state int) {
	m.CircuitState.Record(ctx, int64(state), metric.WithAttributes(attribute.String("provider", provider)))
}
