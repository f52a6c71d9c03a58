package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Verification(ResultMatch)
	m.PasswordSet()
	m.Rehash()
	m.SessionBegun(true)
	m.Resolution("authenticated")
	m.SessionEnded("logout")
	m.SessionsSwept(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Counts(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.Verification(ResultMatch)
	m.Verification(ResultMatch)
	m.Verification(ResultMismatch)
	m.SessionBegun(false)
	m.SessionsSwept(0)
	m.SessionsSwept(2)

	require.Equal(t, 2.0, testutil.ToFloat64(m.verifications.WithLabelValues(ResultMatch)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues(ResultMismatch)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsBegun.WithLabelValues("false")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.sessionsSwept))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Resolution("anonymous")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `latch_session_resolutions_total{identity="anonymous"} 1`))
}
