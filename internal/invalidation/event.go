// Package invalidation drops rendered tiles when the upstream grid refreshes.
package invalidation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

// Event announces that the grid for a pollutant changed. A nil BBox means the
// whole layer is stale.
type Event struct {
	// Version increases with every refresh of a pollutant's grid.
	Version   uint64    `json:"version"`
	Pollutant string    `json:"pollutant"`
	TS        time.Time `json:"ts"`
	BBox      *BBox     `json:"bbox,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// BBox uses the same field names as the grid service payload. MinLon greater
// than MaxLon describes a box crossing the antimeridian.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

func (b BBox) Model() model.BBox {
	return model.BBox{North: b.MaxLat, South: b.MinLat, East: b.MaxLon, West: b.MinLon}
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return errors.New("version is required")
	}
	if strings.TrimSpace(e.Pollutant) == "" {
		return errors.New("pollutant is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	if e.BBox == nil {
		return nil
	}
	bb := *e.BBox
	for _, v := range []float64{bb.MinLat, bb.MaxLat, bb.MinLon, bb.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("bbox must be finite")
		}
	}
	if !(bb.MinLon >= -180 && bb.MinLon <= 180 && bb.MaxLon >= -180 && bb.MaxLon <= 180) {
		return errors.New("bbox longitude out of range")
	}
	if !(bb.MinLat >= -90 && bb.MinLat <= 90 && bb.MaxLat >= -90 && bb.MaxLat <= 90) {
		return errors.New("bbox latitude out of range")
	}
	if bb.MaxLat <= bb.MinLat {
		return fmt.Errorf("bbox must satisfy max_lat>min_lat (got %v..%v)", bb.MinLat, bb.MaxLat)
	}
	if bb.MinLon == bb.MaxLon {
		return errors.New("bbox has zero width")
	}
	return nil
}
