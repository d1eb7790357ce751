package tilemath

import (
	"math"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

func almostEq(t *testing.T, got, want, eps float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Fatalf("got=%g want=%g (eps=%g)", got, want, eps)
	}
}

func TestToBounds_WholeWorldAtZoomZero(t *testing.T) {
	b := ToBounds(model.TileAddress{Z: 0, X: 0, Y: 0})
	if b.West != -180 || b.East != 180 {
		t.Fatalf("west/east = %v/%v want -180/180", b.West, b.East)
	}
	almostEq(t, b.North, MaxLat, 1e-9)
	almostEq(t, b.South, -MaxLat, 1e-9)
}

func TestToBounds_OrderedForSupportedZooms(t *testing.T) {
	for _, z := range DefaultZoomRange().Zooms() {
		n := 1 << uint(z)
		for _, xy := range [][2]int{{0, 0}, {n / 2, n / 3}, {n - 1, n - 1}, {n / 7, n - 2}} {
			a := model.TileAddress{Z: z, X: xy[0], Y: xy[1]}
			b := ToBounds(a)
			if !(b.South < b.North) {
				t.Fatalf("%s: south %v >= north %v", a, b.South, b.North)
			}
			if !(b.West < b.East) {
				t.Fatalf("%s: west %v >= east %v", a, b.West, b.East)
			}
		}
	}
}

func TestChildren_PartitionParent(t *testing.T) {
	parents := []model.TileAddress{
		{Z: 0, X: 0, Y: 0},
		{Z: 10, X: 301, Y: 384},
		{Z: 13, X: 4093, Y: 2723},
	}
	for _, p := range parents {
		pb := ToBounds(p)
		kids := Children(p)
		nw, ne, sw, se := ToBounds(kids[0]), ToBounds(kids[1]), ToBounds(kids[2]), ToBounds(kids[3])

		// outer edges match the parent
		almostEq(t, nw.North, pb.North, 1e-9)
		almostEq(t, ne.North, pb.North, 1e-9)
		almostEq(t, sw.South, pb.South, 1e-9)
		almostEq(t, se.South, pb.South, 1e-9)
		almostEq(t, nw.West, pb.West, 1e-9)
		almostEq(t, sw.West, pb.West, 1e-9)
		almostEq(t, ne.East, pb.East, 1e-9)
		almostEq(t, se.East, pb.East, 1e-9)

		// inner edges are shared
		almostEq(t, nw.East, ne.West, 0)
		almostEq(t, sw.East, se.West, 0)
		almostEq(t, nw.South, sw.North, 0)
		almostEq(t, ne.South, se.North, 0)
	}
}

func TestToBounds_MatchesOrbMaptile(t *testing.T) {
	for _, a := range []model.TileAddress{{Z: 10, X: 163, Y: 395}, {Z: 14, X: 8185, Y: 5448}} {
		got := ToBounds(a)
		ob := maptile.New(uint32(a.X), uint32(a.Y), maptile.Zoom(uint32(a.Z))).Bound()
		almostEq(t, got.West, ob.Min.Lon(), 1e-9)
		almostEq(t, got.East, ob.Max.Lon(), 1e-9)
		almostEq(t, got.South, ob.Min.Lat(), 1e-9)
		almostEq(t, got.North, ob.Max.Lat(), 1e-9)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		a    model.TileAddress
		want bool
	}{
		{model.TileAddress{Z: 0, X: 0, Y: 0}, true},
		{model.TileAddress{Z: 0, X: 1, Y: 0}, false},
		{model.TileAddress{Z: 12, X: 4095, Y: 4095}, true},
		{model.TileAddress{Z: 12, X: 4096, Y: 0}, false},
		{model.TileAddress{Z: 12, X: -1, Y: 0}, false},
		{model.TileAddress{Z: -1, X: 0, Y: 0}, false},
	}
	for _, c := range cases {
		if got := Valid(c.a); got != c.want {
			t.Fatalf("Valid(%s)=%v want %v", c.a, got, c.want)
		}
	}
}

func TestZoomRange(t *testing.T) {
	r := DefaultZoomRange()
	if r.Contains(9) || !r.Contains(10) || !r.Contains(16) || r.Contains(17) {
		t.Fatalf("unexpected Contains results for %+v", r)
	}
	if got := len(r.Zooms()); got != 7 {
		t.Fatalf("zooms=%d want 7", got)
	}
}

func TestCover_InteriorBoxIsSingleTile(t *testing.T) {
	a := model.TileAddress{Z: 12, X: 655, Y: 1583}
	b := ToBounds(a)
	dLat := (b.North - b.South) / 4
	dLon := (b.East - b.West) / 4
	inner := model.BBox{North: b.North - dLat, South: b.South + dLat, West: b.West + dLon, East: b.East - dLon}

	got := Cover(inner, 12)
	if len(got) != 1 || got[0] != a {
		t.Fatalf("Cover=%v want [%s]", got, a)
	}
}

func TestCover_SpansNeighbours(t *testing.T) {
	a := model.TileAddress{Z: 11, X: 400, Y: 700}
	b := ToBounds(a)
	c := ToBounds(model.TileAddress{Z: 11, X: 401, Y: 701})
	box := model.BBox{
		North: (b.North + b.South) / 2,
		South: (c.North + c.South) / 2,
		West:  (b.West + b.East) / 2,
		East:  (c.West + c.East) / 2,
	}
	got := Cover(box, 11)
	if len(got) != 4 {
		t.Fatalf("Cover len=%d want 4: %v", len(got), got)
	}
}

func TestCover_Antimeridian(t *testing.T) {
	box := model.BBox{North: 10, South: 5, West: 179.9, East: -179.9}
	got := Cover(box, 10)
	var left, right bool
	for _, a := range got {
		if a.X == 0 {
			left = true
		}
		if a.X == 1023 {
			right = true
		}
	}
	if !left || !right {
		t.Fatalf("expected tiles on both sides of the antimeridian, got %v", got)
	}
}

func TestCover_InvalidBox(t *testing.T) {
	if got := Cover(model.BBox{North: 1, South: 2}, 10); got != nil {
		t.Fatalf("expected nil for inverted box, got %v", got)
	}
}

func TestCoverSize_MatchesCover(t *testing.T) {
	boxes := []model.BBox{
		{North: 30, South: 29.5, West: -95.6, East: -95.4},
		{North: 10, South: 5, West: 179.9, East: -179.9},
		{North: 60, South: 55, West: 10, East: 20},
	}
	for _, b := range boxes {
		for z := 8; z <= 12; z++ {
			if got, want := CoverSize(b, z), uint64(len(Cover(b, z))); got != want {
				t.Fatalf("box=%v z=%d CoverSize=%d len(Cover)=%d", b, z, got, want)
			}
		}
	}
	if n := CoverSize(model.BBox{North: 85, South: -85, West: -180, East: 180}, 30); n < 1<<40 {
		t.Fatalf("world at z30=%d, expected a huge count without allocating", n)
	}
}
