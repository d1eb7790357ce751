// Package tilemath converts slippy-map tile addresses to geographic bounds.
package tilemath

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

// latitude limit of the web mercator square
const MaxLat = 85.0511287798066

type ZoomRange struct {
	Min, Max int
}

func DefaultZoomRange() ZoomRange { return ZoomRange{Min: 10, Max: 16} }

func (r ZoomRange) Contains(z int) bool { return z >= r.Min && z <= r.Max }

// Zooms lists every zoom level in the range, ascending.
func (r ZoomRange) Zooms() []int {
	if r.Max < r.Min {
		return nil
	}
	out := make([]int, 0, r.Max-r.Min+1)
	for z := r.Min; z <= r.Max; z++ {
		out = append(out, z)
	}
	return out
}

// Valid reports whether 0 <= x,y < 2^z.
func Valid(a model.TileAddress) bool {
	if a.Z < 0 || a.Z > 30 {
		return false
	}
	n := 1 << uint(a.Z)
	return a.X >= 0 && a.X < n && a.Y >= 0 && a.Y < n
}

// ToBounds applies the inverse web mercator projection to a tile address.
// Inputs are not validated.
func ToBounds(a model.TileAddress) model.BBox {
	n := math.Exp2(float64(a.Z))
	x, y := float64(a.X), float64(a.Y)
	return model.BBox{
		West:  x/n*360 - 180,
		East:  (x+1)/n*360 - 180,
		North: tileLat(y, n),
		South: tileLat(y+1, n),
	}
}

func tileLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
}

// Children returns the four tiles one zoom deeper, ordered NW, NE, SW, SE.
func Children(a model.TileAddress) [4]model.TileAddress {
	z, x, y := a.Z+1, 2*a.X, 2*a.Y
	return [4]model.TileAddress{
		{Z: z, X: x, Y: y},
		{Z: z, X: x + 1, Y: y},
		{Z: z, X: x, Y: y + 1},
		{Z: z, X: x + 1, Y: y + 1},
	}
}

// Cover returns the tiles at zoom z that intersect b. A box with west > east
// is treated as crossing the antimeridian.
func Cover(b model.BBox, z int) []model.TileAddress {
	if !b.Valid() || z < 0 || z > 30 {
		return nil
	}
	if b.West > b.East {
		west := Cover(model.BBox{North: b.North, South: b.South, West: b.West, East: 180}, z)
		east := Cover(model.BBox{North: b.North, South: b.South, West: -180, East: b.East}, z)
		return append(west, east...)
	}

	minX, maxX, minY, maxY := span(b, z)
	out := make([]model.TileAddress, 0, int(maxX-minX+1)*int(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			out = append(out, model.TileAddress{Z: z, X: int(x), Y: int(y)})
		}
	}
	return out
}

// CoverSize is len(Cover(b, z)) without building the slice.
func CoverSize(b model.BBox, z int) uint64 {
	if !b.Valid() || z < 0 || z > 30 {
		return 0
	}
	if b.West > b.East {
		return CoverSize(model.BBox{North: b.North, South: b.South, West: b.West, East: 180}, z) +
			CoverSize(model.BBox{North: b.North, South: b.South, West: -180, East: b.East}, z)
	}
	minX, maxX, minY, maxY := span(b, z)
	return uint64(maxX-minX+1) * uint64(maxY-minY+1)
}

func span(b model.BBox, z int) (minX, maxX, minY, maxY uint32) {
	zoom := maptile.Zoom(uint32(z))
	nw := maptile.At(orb.Point{clampLon(b.West), clampLat(b.North)}, zoom)
	se := maptile.At(orb.Point{clampLon(b.East), clampLat(b.South)}, zoom)

	last := uint32(1)<<uint(z) - 1
	return min(nw.X, last), min(se.X, last), min(nw.Y, last), min(se.Y, last)
}

// FromMaptile converts an orb tile into a model address.
func FromMaptile(t maptile.Tile) model.TileAddress {
	return model.TileAddress{Z: int(t.Z), X: int(t.X), Y: int(t.Y)}
}

func clampLat(v float64) float64 {
	return math.Max(-MaxLat, math.Min(MaxLat, v))
}

func clampLon(v float64) float64 {
	return math.Max(-180, math.Min(180, v))
}
