package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New("test")

	m.EventAppended("V1_CASE_CREATED")
	m.EventAppended("V1_CASE_CREATED")
	m.VersionConflict()
	m.CommandRejected("respond")
	m.OutboxResult("delivered")
	m.ObserveCommand("respond", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.appends.WithLabelValues("V1_CASE_CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("respond")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outbox.WithLabelValues("delivered")))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventAppended("x")
		m.VersionConflict()
		m.CommandRejected("x")
		m.ObserveCommand("x", time.Now())
		m.ProjectionFailed()
		m.CacheRefreshFailed()
		m.OutboxResult("failed")
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New("test")
	m.VersionConflict()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_version_conflicts_total 1")
}
