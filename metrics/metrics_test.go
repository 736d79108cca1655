package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("labportal", reg)

	m.Registration(ResultSuccess)
	m.Registration(ResultSuccess)
	m.Login(ResultRejected)
	m.UIDConflict()
	m.InstanceAction("launch", ResultFailure)
	m.PersistRetry()
	m.Bootstrap("Create", ResultSuccess)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uidConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instanceActions.WithLabelValues("launch", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bootstrap.WithLabelValues("Create", ResultSuccess)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Registration(ResultSuccess)
		m.Login(ResultSuccess)
		m.UIDConflict()
		m.InstanceAction("stop", ResultSuccess)
		m.PersistRetry()
		m.Bootstrap("Delete", ResultSuccess)
	})
}

func TestMetricsServer_Exposition(t *testing.T) {
	srv, err := New("labportal", ":0")
	require.NoError(t, err)
	srv.Metrics().UIDConflict()

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "labportal_uid_allocation_conflicts_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
