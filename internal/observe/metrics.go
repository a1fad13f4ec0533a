// Package observe provides application-wide observability primitives for the
// CKG engine: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all engine metrics.
const meterName = "github.com/ethrdev/cognitive-memory-sub004"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per subsystem ---

	// DecayDuration tracks the cost of computing relevance_score for a
	// retrieval candidate set (§4.4).
	DecayDuration metric.Float64Histogram

	// DissonanceCheckDuration tracks classifier round-trip latency during
	// contradiction detection (§4.6).
	DissonanceCheckDuration metric.Float64Histogram

	// RRFFusionDuration tracks the cost of fusing semantic, lexical, and
	// graph result sets via Reciprocal Rank Fusion (§4.9).
	RRFFusionDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding-gateway request latency, including
	// retries (§4.2).
	EmbeddingDuration metric.Float64Histogram

	// IEFScoreDuration tracks the cost of computing the Integrative
	// Evaluation Function score over a candidate set (§4.8).
	IEFScoreDuration metric.Float64Histogram

	// --- Counters ---

	// OracleRequests counts external-oracle API calls. Use with attributes:
	//   attribute.String("oracle", ...), attribute.String("provider", ...), attribute.String("status", ...)
	OracleRequests metric.Int64Counter

	// EmbeddingRetries counts embedding-gateway retry attempts (§4.2).
	EmbeddingRetries metric.Int64Counter

	// SMFProposals counts self-modification proposals by outcome. Use with
	// attribute: attribute.String("status", ...) where status is one of
	// pending, approved, rejected, timed_out, undone.
	SMFProposals metric.Int64Counter

	// DissonanceResolutions counts resolution hyperedges created, by type.
	// Use with attribute: attribute.String("resolution_type", ...).
	DissonanceResolutions metric.Int64Counter

	// EdgeProtectionBlocks counts delete/mutate attempts blocked because the
	// target edge is constitutive (§3, §4.5).
	EdgeProtectionBlocks metric.Int64Counter

	// --- Error counters ---

	// OracleErrors counts external-oracle errors. Use with attributes:
	//   attribute.String("oracle", ...), attribute.String("kind", ...)
	OracleErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversational sessions.
	ActiveSessions metric.Int64UpDownCounter

	// WorkingMemorySize tracks aggregate working-memory occupancy across
	// sessions, relative to the configured capacity.
	WorkingMemorySize metric.Int64UpDownCounter

	// PendingProposals tracks SMF proposals awaiting bilateral consent.
	PendingProposals metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both sub-millisecond in-process scoring work and multi-second oracle round
// trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecayDuration, err = m.Float64Histogram("ckg.decay.duration",
		metric.WithDescription("Latency of relevance_score computation over a candidate set."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DissonanceCheckDuration, err = m.Float64Histogram("ckg.dissonance.check.duration",
		metric.WithDescription("Latency of a single dissonance-classifier round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RRFFusionDuration, err = m.Float64Histogram("ckg.rrf.fusion.duration",
		metric.WithDescription("Latency of Reciprocal Rank Fusion across semantic, lexical, and graph result sets."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("ckg.embedding.duration",
		metric.WithDescription("Latency of embedding-gateway requests, including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IEFScoreDuration, err = m.Float64Histogram("ckg.ief.score.duration",
		metric.WithDescription("Latency of Integrative Evaluation Function scoring over a candidate set."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.OracleRequests, err = m.Int64Counter("ckg.oracle.requests",
		metric.WithDescription("Total external-oracle requests by oracle, provider, and status."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingRetries, err = m.Int64Counter("ckg.embedding.retry",
		metric.WithDescription("Total embedding-gateway retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.SMFProposals, err = m.Int64Counter("ckg.smf.proposals",
		metric.WithDescription("Total self-modification proposals by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DissonanceResolutions, err = m.Int64Counter("ckg.dissonance.resolutions",
		metric.WithDescription("Total resolution hyperedges created, by resolution type."),
	); err != nil {
		return nil, err
	}
	if met.EdgeProtectionBlocks, err = m.Int64Counter("ckg.edge.protection_blocks",
		metric.WithDescription("Total mutation attempts blocked by constitutive-edge protection."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.OracleErrors, err = m.Int64Counter("ckg.oracle.errors",
		metric.WithDescription("Total external-oracle errors by oracle and error kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("ckg.active_sessions",
		metric.WithDescription("Number of live conversational sessions."),
	); err != nil {
		return nil, err
	}
	if met.WorkingMemorySize, err = m.Int64UpDownCounter("ckg.working_memory.size",
		metric.WithDescription("Aggregate working-memory occupancy across sessions."),
	); err != nil {
		return nil, err
	}
	if met.PendingProposals, err = m.Int64UpDownCounter("ckg.smf.pending_proposals",
		metric.WithDescription("Number of SMF proposals awaiting bilateral consent."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ckg.http.request.duration",
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

// RecordOracleRequest is a convenience method that records an oracle request
// counter increment with the standard attribute set.
func (m *Metrics) RecordOracleRequest(ctx context.Context, oracle, provider, status string) {
	m.OracleRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("oracle", oracle),
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordOracleError is a convenience method that records an oracle error
// counter increment.
func (m *Metrics) RecordOracleError(ctx context.Context, oracle, kind string) {
	m.OracleErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("oracle", oracle),
			attribute.String("kind", kind),
		),
	)
}

// RecordSMFProposal is a convenience method that records an SMF proposal
// outcome counter increment.
func (m *Metrics) RecordSMFProposal(ctx context.Context, status string) {
	m.SMFProposals.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDissonanceResolution is a convenience method that records a
// resolution hyperedge creation, by resolution type.
func (m *Metrics) RecordDissonanceResolution(ctx context.Context, resolutionType string) {
	m.DissonanceResolutions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("resolution_type", resolutionType)),
	)
}

// RecordEdgeProtectionBlock is a convenience method that records a blocked
// mutation attempt against a constitutive edge.
func (m *Metrics) RecordEdgeProtectionBlock(ctx context.Context) {
	m.EdgeProtectionBlocks.Add(ctx, 1)
}
