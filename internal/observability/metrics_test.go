package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorder(t *testing.T) {
	m := NewMetrics()

	m.KeySetRefreshed("startup", true)
	m.KeySetRefreshed("unknown_key", false)
	m.KeySetRefreshed("unknown_key", false)
	m.TokenVerified("ok")
	m.TokenVerified("expired_token")
	m.AccessDecided("Doctor", "role_mismatch")
	m.AuditEvent("dropped")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.keySetRefreshes.WithLabelValues("startup", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.keySetRefreshes.WithLabelValues("unknown_key", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenVerifies.WithLabelValues("expired_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accessDecisions.WithLabelValues("Doctor", "role_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditEventsTotal.WithLabelValues("dropped")))

	m.KeySetDegraded(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keySetDegraded))
	m.KeySetDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.keySetDegraded))
}

func TestMetrics_HandlerAndMiddleware(t *testing.T) {
	m := NewMetrics()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/doctor/profile", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	r.Handle("/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/api/doctor/profile", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/doctor/profile", "403")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "clinic_gateway_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
