package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("expected ok body, got %q", rr.Body.String())
	}
}

func TestHandleMetrics(t *testing.T) {
	metrics.Reset()
	metrics.Inc("monitoring_probe_total", map[string]string{"source": "test"})

	rr := httptest.NewRecorder()
	handleMetrics(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), `monitoring_probe_total{source="test"} 1`) {
		t.Fatalf("metric line missing from dump:\n%s", rr.Body.String())
	}
}
