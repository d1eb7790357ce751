package invalidation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/tilemath"
)

type fakeTarget struct {
	mu       sync.Mutex
	removed  []model.TileAddress
	purges   int
	purgeErr error
}

func (f *fakeTarget) Remove(_ context.Context, addrs ...model.TileAddress) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, addrs...)
	return len(addrs)
}

func (f *fakeTarget) Purge(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges++
	return f.purgeErr
}

var smallBox = &BBox{MinLat: 29.70, MaxLat: 29.71, MinLon: -95.40, MaxLon: -95.39}

func TestApply_RemovesCoverAcrossZooms(t *testing.T) {
	ft := &fakeTarget{}
	zr := tilemath.ZoomRange{Min: 10, Max: 12}
	inv := New(map[string]Target{"aqi": ft}, zr, nil)

	res, err := inv.Apply(context.Background(), Event{Version: 1, Pollutant: "aqi", TS: mustTS(), BBox: smallBox})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Purged || res.Tiles != len(ft.removed) || res.Tiles == 0 {
		t.Fatalf("res=%+v removed=%d", res, len(ft.removed))
	}
	zooms := map[int]bool{}
	for _, a := range ft.removed {
		zooms[a.Z] = true
		b := tilemath.ToBounds(a)
		if b.North < smallBox.MinLat || b.South > smallBox.MaxLat || b.East < smallBox.MinLon || b.West > smallBox.MaxLon {
			t.Fatalf("tile %v bounds %v do not touch the refreshed box", a, b)
		}
	}
	if len(zooms) != 3 {
		t.Fatalf("zooms touched=%v want 10..12", zooms)
	}
}

func TestApply_StaleVersionSkipped(t *testing.T) {
	ft := &fakeTarget{}
	inv := New(map[string]Target{"aqi": ft}, tilemath.DefaultZoomRange(), nil)
	ctx := context.Background()

	if _, err := inv.Apply(ctx, Event{Version: 5, Pollutant: "aqi", TS: mustTS()}); err != nil {
		t.Fatal(err)
	}
	res, err := inv.Apply(ctx, Event{Version: 5, Pollutant: "aqi", TS: mustTS()})
	if err != nil || res.Skipped != "stale_version" {
		t.Fatalf("res=%+v err=%v want stale_version", res, err)
	}
	if ft.purges != 1 {
		t.Fatalf("purges=%d want 1", ft.purges)
	}
	if res, _ := inv.Apply(ctx, Event{Version: 6, Pollutant: "aqi", TS: mustTS()}); res.Skipped != "" {
		t.Fatalf("newer version skipped: %+v", res)
	}
}

func TestApply_FailedPurgeIsRetryable(t *testing.T) {
	ft := &fakeTarget{purgeErr: errors.New("redis down")}
	inv := New(map[string]Target{"aqi": ft}, tilemath.DefaultZoomRange(), nil)
	ctx := context.Background()
	ev := Event{Version: 2, Pollutant: "aqi", TS: mustTS()}

	if _, err := inv.Apply(ctx, ev); err == nil {
		t.Fatal("expected purge error")
	}
	ft.purgeErr = nil
	res, err := inv.Apply(ctx, ev)
	if err != nil || !res.Purged {
		t.Fatalf("retry res=%+v err=%v", res, err)
	}
}

func TestApply_LargeBoxPurgesLayer(t *testing.T) {
	ft := &fakeTarget{}
	inv := New(map[string]Target{"aqi": ft}, tilemath.DefaultZoomRange(), nil, WithMaxTiles(100))

	res, err := inv.Apply(context.Background(), Event{
		Version: 1, Pollutant: "aqi", TS: mustTS(),
		BBox: &BBox{MinLat: 25, MaxLat: 35, MinLon: -100, MaxLon: -90},
	})
	if err != nil || !res.Purged {
		t.Fatalf("res=%+v err=%v want purge", res, err)
	}
	if len(ft.removed) != 0 || ft.purges != 1 {
		t.Fatalf("removed=%d purges=%d", len(ft.removed), ft.purges)
	}
}

func TestApply_UnknownPollutantAndInvalid(t *testing.T) {
	inv := New(map[string]Target{"aqi": &fakeTarget{}}, tilemath.DefaultZoomRange(), nil)
	ctx := context.Background()

	res, err := inv.Apply(ctx, Event{Version: 1, Pollutant: "so2", TS: mustTS()})
	if err != nil || res.Skipped != "unknown_pollutant" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if _, err := inv.Apply(ctx, Event{Pollutant: "aqi", TS: mustTS()}); err == nil {
		t.Fatal("expected validation error")
	}
}
