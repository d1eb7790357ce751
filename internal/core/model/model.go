// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"math"
)

// slippy-map tile address
type TileAddress struct {
	Z, X, Y int
}

func (a TileAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

// geographic bounding box in degrees (EPSG:4326)
type BBox struct {
	North, South float64
	East, West   float64
}

func (b BBox) String() string {
	return fmt.Sprintf("n=%.6f,s=%.6f,e=%.6f,w=%.6f", b.North, b.South, b.East, b.West)
}

func (b BBox) Center() (lat, lon float64) {
	return (b.North + b.South) / 2, (b.West + b.East) / 2
}

// Valid reports whether all edges are finite and south < north.
func (b BBox) Valid() bool {
	for _, v := range [...]float64{b.North, b.South, b.East, b.West} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.South < b.North
}

// Grid is a rectangular grid of pollutant values; row 0 is the northern edge.
// Zero rows means "no data".
type Grid struct {
	Bounds BBox
	Rows   [][]float64
}

func EmptyGrid() Grid { return Grid{} }

func (g Grid) Empty() bool { return len(g.Rows) == 0 }

// Dims returns rows and cols, ok is false for empty or ragged grids.
func (g Grid) Dims() (rows, cols int, ok bool) {
	rows = len(g.Rows)
	if rows == 0 {
		return 0, 0, false
	}
	cols = len(g.Rows[0])
	if cols == 0 {
		return 0, 0, false
	}
	for _, r := range g.Rows[1:] {
		if len(r) != cols {
			return 0, 0, false
		}
	}
	return rows, cols, true
}
