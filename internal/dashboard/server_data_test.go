package dashboard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cascadeflow/internal/metrics"
	"cascadeflow/logger"
)

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	metrics.EmitMetric(srv.log, "component", "liq_raw_buffer_length", 5, "gauge", logger.Fields{"capacity": 10})

	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if len(srv.metricStore.snapshot()) == 0 {
		t.Fatalf("metrics store empty")
	}
}
