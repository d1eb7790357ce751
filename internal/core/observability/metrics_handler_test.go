package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/tiles", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestTileAndCacheCounters(t *testing.T) {
	before := testutil.ToFloat64(tileResults.WithLabelValues("pm25", "hit"))
	IncTileResult("pm25", "hit")
	IncTileResult("pm25", "hit")
	if got := testutil.ToFloat64(tileResults.WithLabelValues("pm25", "hit")); got != before+2 {
		t.Fatalf("tile hits=%v want %v", got, before+2)
	}

	errBefore := testutil.ToFloat64(cacheOpTotal.WithLabelValues("l2", "get", "error"))
	ObserveCacheOp("l2", "get", errors.New("boom"), 0.001)
	if got := testutil.ToFloat64(cacheOpTotal.WithLabelValues("l2", "get", "error")); got != errBefore+1 {
		t.Fatalf("cache errors=%v want %v", got, errBefore+1)
	}

	SetCacheEntries("pm25", 7)
	if got := testutil.ToFloat64(cacheEntries.WithLabelValues("pm25")); got != 7 {
		t.Fatalf("entries gauge=%v want 7", got)
	}
}

func TestInit_CustomRegistryIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true)

	ObserveInvalidation("aqi", 12, nil)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "tile_invalidated_tiles_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("tile_invalidated_tiles_total not gathered from custom registry")
	}
}
