package invalidation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/keys"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/redisstore"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/tiered"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/tilecache"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/invalidation"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/tilemath"
)

func TestIntegration_Miniredis_RefreshDropsTilesAndMetrics(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	style := keys.Style{Size: 256, Alpha: 178}
	l1, _ := tilecache.New(tilecache.DefaultCapacity)
	c := tiered.New(l1, nil, tiered.WithShared(rc, time.Minute), tiered.WithStyle(style), tiered.WithPollutant("pm25"))

	zr := tilemath.ZoomRange{Min: 11, Max: 12}
	inside := model.TileAddress{Z: 12, X: 961, Y: 1692}
	outside := model.TileAddress{Z: 12, X: 100, Y: 100}
	c.Put(ctx, inside, []byte("stale"))
	c.Put(ctx, outside, []byte("fresh"))

	bb := tilemath.ToBounds(inside)
	inv := invalidation.New(map[string]invalidation.Target{"pm25": c}, zr, nil)
	cons := kafkaconsumer.New(kafkaconsumer.Config{Topic: "t"}, nil, nil, inv)

	ev := invalidation.Event{
		Version: 1, Pollutant: "pm25", TS: time.Now().UTC(),
		BBox: &invalidation.BBox{
			MinLat: bb.South + 0.001, MaxLat: bb.North - 0.001,
			MinLon: bb.West + 0.001, MaxLon: bb.East - 0.001,
		},
	}
	body, _ := json.Marshal(ev)
	msg := &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: body}

	if err := cons.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if mr.Exists(keys.Key("pm25", inside, style)) {
		t.Fatal("refreshed tile still in shared tier")
	}
	if _, ok := l1.Get(inside); ok {
		t.Fatal("refreshed tile still in L1")
	}
	if b, ok := c.Get(ctx, outside); !ok || string(b) != "fresh" {
		t.Fatalf("unrelated tile lost: %q,%v", b, ok)
	}

	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	bodyStr := rr.Body.String()
	for _, s := range []string{
		`tile_invalidations_total{pollutant="pm25",result="ok"} 1`,
		`tile_invalidated_tiles_total{pollutant="pm25"}`,
	} {
		if !strings.Contains(bodyStr, s) {
			t.Fatalf("metrics missing %q; got:\n%s", s, bodyStr)
		}
	}
}
