package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/sales/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sales/42", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/v1/sales/{id}", "404")))
}

func TestLedgerOperationCounter(t *testing.T) {
	m := NewMetrics()
	m.LedgerOperation("create_sale", "ok")
	m.LedgerOperation("create_sale", "ok")
	m.LedgerOperation("create_sale", "insufficient_stock")
	m.AllocatedBatches(2)

	require.Equal(t, float64(2), testutil.ToFloat64(m.ledgerOperations.WithLabelValues("create_sale", "ok")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(rec.Body.String(), "toko_ledger_allocated_batches"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.LedgerOperation("create_sale", "ok")
	m.AllocatedBatches(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
