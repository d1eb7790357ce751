package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)

	start := time.Now()
	observability.ObserveRender("aqi", time.Since(start).Seconds())
	observability.IncTileResult("aqi", "miss")
	observability.IncTileResult("aqi", "hit")

	observability.ObserveCacheOp("l2", "get", nil, 0.002)
	observability.SetCacheEntries("aqi", 42)
	observability.IncKafkaConsumerError("decode")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`tile_render_duration_seconds_bucket`,
		`cache_op_duration_seconds_count{op="get",tier="l2"} `,
		`tile_cache_entries{pollutant="aqi"} 42`,
		`kafka_consumer_errors_total{kind="decode"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "tile_results_total",
		`outcome="miss"`, `pollutant="aqi"`)
	assertHasMetricLine(t, body, "tile_results_total",
		`outcome="hit"`, `pollutant="aqi"`)
	assertHasMetricLine(t, body, "app_build_info",
		`version="test"`)
}
