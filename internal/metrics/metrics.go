// Package metrics exposes Prometheus counters and histograms for the
// chunking and retrieval pipeline, labeled by pipeline version so two
// rollout versions can be compared side by side.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as label values.
const (
	StageSparse = "sparse"
	StageDense  = "dense"
	StageFusion = "fusion"
	StageRerank = "rerank"
	StageBudget = "budget"
	StageRoute  = "route"
	StageChunk  = "chunk"
	StageEmbed  = "embed"
)

// Metrics holds all pipeline collectors against a private registry.
type Metrics struct {
	registry *prometheus.Registry

	stageLatency    *prometheus.HistogramVec
	candidatesIn    *prometheus.CounterVec
	candidatesOut   *prometheus.CounterVec
	intentTotal     *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
	rerankFallbacks *prometheus.CounterVec
	chunksCreated   *prometheus.CounterVec
	sourcesSkipped  *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lumora",
			Name:      "stage_latency_seconds",
			Help:      "Latency per pipeline stage.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage", "pipeline_version"}),
		candidatesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumora",
			Name:      "stage_candidates_in_total",
			Help:      "Candidates entering a pipeline stage.",
		}, []string{"stage", "pipeline_version"}),
		candidatesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumora",
			Name:      "stage_candidates_out_total",
			Help:      "Candidates surviving a pipeline stage.",
		}, []string{"stage", "pipeline_version"}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumora",
			Name:      "routed_intent_total",
			Help:      "Queries routed per intent.",
		}, []string{"intent", "pipeline_version"}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumora",
			Name:      "pipeline_errors_total",
			Help:      "Errors by kind.",
		}, []string{"kind", "pipeline_version"}),
		rerankFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumora",
			Name:      "rerank_fallback_total",
			Help:      "Retrievals that fell back to fused order because reranking failed.",
		}, []string{"pipeline_version"}),
		chunksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumora",
			Name:      "chunks_created_total",
			Help:      "Knowledge chunks written to the store.",
		}, []string{"chunk_type", "pipeline_version"}),
		sourcesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumora",
			Name:      "sources_skipped_total",
			Help:      "Chunking runs skipped because the content hash was unchanged.",
		}, []string{"chunk_type", "pipeline_version"}),
	}

	registry.MustRegister(
		m.stageLatency,
		m.candidatesIn,
		m.candidatesOut,
		m.intentTotal,
		m.errorTotal,
		m.rerankFallbacks,
		m.chunksCreated,
		m.sourcesSkipped,
	)

	return m
}

// ObserveStage records the duration and in/out candidate counts of a stage.
func (m *Metrics) ObserveStage(stage, version string, d time.Duration, in, out int) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage, version).Observe(d.Seconds())
	m.candidatesIn.WithLabelValues(stage, version).Add(float64(in))
	m.candidatesOut.WithLabelValues(stage, version).Add(float64(out))
}

// RecordIntent counts a routed intent.
func (m *Metrics) RecordIntent(intent, version string) {
	if m == nil {
		return
	}
	m.intentTotal.WithLabelValues(intent, version).Inc()
}

// RecordError counts an error by kind (domain error code).
func (m *Metrics) RecordError(kind, version string) {
	if m == nil {
		return
	}
	m.errorTotal.WithLabelValues(kind, version).Inc()
}

// RecordRerankFallback counts a graceful rerank degradation.
func (m *Metrics) RecordRerankFallback(version string) {
	if m == nil {
		return
	}
	m.rerankFallbacks.WithLabelValues(version).Inc()
}

// RecordChunksCreated counts chunks written for a chunk type.
func (m *Metrics) RecordChunksCreated(chunkType, version string, n int) {
	if m == nil {
		return
	}
	m.chunksCreated.WithLabelValues(chunkType, version).Add(float64(n))
}

// RecordSourceSkipped counts an idempotent no-op chunking run.
func (m *Metrics) RecordSourceSkipped(chunkType, version string) {
	if m == nil {
		return
	}
	m.sourcesSkipped.WithLabelValues(chunkType, version).Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
