package grid

import (
	"fmt"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

// Response is the upstream heatmap payload.
type Response struct {
	Values    [][]float64 `json:"values"`
	Bounds    *WireBounds `json:"bounds"`
	Pollutant string      `json:"pollutant,omitempty"`
	Timestamp *string     `json:"timestamp,omitempty"`
	Message   string      `json:"message,omitempty"`
}

type WireBounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

func (b WireBounds) BBox() model.BBox {
	return model.BBox{North: b.MaxLat, South: b.MinLat, East: b.MaxLon, West: b.MinLon}
}

// Grid validates the payload. A response without values is a valid empty grid.
func (r Response) Grid() (model.Grid, error) {
	if len(r.Values) == 0 {
		return model.EmptyGrid(), nil
	}
	if r.Bounds == nil {
		return model.Grid{}, fmt.Errorf("%w: missing bounds", ErrMalformedGrid)
	}
	bb := r.Bounds.BBox()
	if !bb.Valid() {
		return model.Grid{}, fmt.Errorf("%w: invalid bounds %s", ErrMalformedGrid, bb)
	}
	g := model.Grid{Bounds: bb, Rows: r.Values}
	if _, _, ok := g.Dims(); !ok {
		return model.Grid{}, fmt.Errorf("%w: ragged rows", ErrMalformedGrid)
	}
	return g, nil
}
