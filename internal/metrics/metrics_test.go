package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	m := New()

	m.ObserveStage(StageSparse, "v2", 25*time.Millisecond, 40, 12)
	m.ObserveStage(StageSparse, "v2", 10*time.Millisecond, 30, 8)

	assert.Equal(t, 70.0, testutil.ToFloat64(m.candidatesIn.WithLabelValues(StageSparse, "v2")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.candidatesOut.WithLabelValues(StageSparse, "v2")))
}

func TestCountersAreLabeledByVersion(t *testing.T) {
	m := New()

	m.RecordIntent("contact", "v1")
	m.RecordIntent("contact", "v2")
	m.RecordIntent("contact", "v2")
	m.RecordRerankFallback("v2")
	m.RecordError("DEPENDENCY_ERROR", "v2")
	m.RecordChunksCreated("faq", "v2", 5)
	m.RecordSourceSkipped("faq", "v2")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.intentTotal.WithLabelValues("contact", "v1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.intentTotal.WithLabelValues("contact", "v2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rerankFallbacks.WithLabelValues("v2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorTotal.WithLabelValues("DEPENDENCY_ERROR", "v2")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.chunksCreated.WithLabelValues("faq", "v2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourcesSkipped.WithLabelValues("faq", "v2")))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.RecordIntent("catalog", "v2")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "lumora_routed_intent_total")
}
