// Package raster renders pollution grids into translucent PNG map tiles.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/colorscale"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

const (
	DefaultTileSize = 256
	// ~70% opacity so the base map stays visible
	DefaultAlpha uint8 = 178
)

var ErrBadSize = errors.New("raster: tile dimensions must be positive")

type Rasterizer struct {
	alpha uint8
	crop  bool
	enc   png.Encoder
}

type Option func(*Rasterizer)

// WithCrop places the grid by its geographic bounds instead of stretching it
// over the whole tile. Pixels outside the grid bounds stay transparent.
func WithCrop(on bool) Option {
	return func(r *Rasterizer) { r.crop = on }
}

func New(alpha uint8, opts ...Option) *Rasterizer {
	r := &Rasterizer{
		alpha: alpha,
		enc: png.Encoder{
			CompressionLevel: png.BestSpeed,
			BufferPool:       &bufferPool{},
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Rasterizer) Alpha() uint8 { return r.alpha }

func (r *Rasterizer) Crop() bool { return r.crop }

// Rasterize renders g as a w x h PNG. Empty or ragged grids produce a fully
// transparent tile. Output is byte-identical for identical inputs.
func (r *Rasterizer) Rasterize(g model.Grid, tile model.BBox, w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadSize, w, h)
	}
	rows, cols, ok := g.Dims()
	if !ok {
		return r.encode(image.NewNRGBA(image.Rect(0, 0, w, h)))
	}
	if r.crop && g.Bounds.Valid() && tile.Valid() && g.Bounds.East > g.Bounds.West {
		return r.encode(r.resample(g, rows, cols, tile, w, h))
	}
	return r.encode(r.partition(g, rows, cols, w, h))
}

// partition splits the tile into rows x cols equal cells.
func (r *Rasterizer) partition(g model.Grid, rows, cols, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for ri, row := range g.Rows {
		y0, y1 := ri*h/rows, (ri+1)*h/rows
		for ci, v := range row {
			if !finite(v) {
				continue
			}
			x0, x1 := ci*w/cols, (ci+1)*w/cols
			fill(img, image.Rect(x0, y0, x1, y1), colorscale.WithAlpha(colorscale.ColorFor(v), r.alpha))
		}
	}
	return img
}

// resample maps grid cells onto the tile with an affine transform derived
// from both bounding boxes. Latitude is treated as linear inside the tile.
func (r *Rasterizer) resample(g model.Grid, rows, cols int, tile model.BBox, w, h int) *image.RGBA {
	src := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for ri, row := range g.Rows {
		for ci, v := range row {
			if !finite(v) {
				continue
			}
			src.SetNRGBA(ci, ri, colorscale.WithAlpha(colorscale.ColorFor(v), r.alpha))
		}
	}

	gb := g.Bounds
	pxPerLon := float64(w) / (tile.East - tile.West)
	pxPerLat := float64(h) / (tile.North - tile.South)
	s2d := f64.Aff3{
		(gb.East - gb.West) / float64(cols) * pxPerLon, 0, (gb.West - tile.West) * pxPerLon,
		0, (gb.North - gb.South) / float64(rows) * pxPerLat, (tile.North - gb.North) * pxPerLat,
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Transform(dst, s2d, src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func (r *Rasterizer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func fill(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	rect = rect.Intersect(img.Rect)
	if rect.Empty() {
		return
	}
	px := [4]uint8{c.R, c.G, c.B, c.A}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := img.PixOffset(rect.Min.X, y)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			copy(img.Pix[off:off+4], px[:])
			off += 4
		}
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

var (
	transparent sync.Map // image.Point -> []byte

	encodeTransparent = func(w, h int) ([]byte, error) {
		var buf bytes.Buffer
		if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	// built at init so Transparent always has valid bytes to return
	fallbackTransparent = mustTransparent(DefaultTileSize, DefaultTileSize)
)

func mustTransparent(w, h int) []byte {
	b, err := encodeTransparent(w, h)
	if err != nil {
		panic(fmt.Sprintf("raster: encode %dx%d transparent tile: %v", w, h, err))
	}
	transparent.Store(image.Pt(w, h), b)
	return b
}

// Transparent returns a fully transparent w x h PNG. The slice is shared
// between callers and must not be modified. If encoding fails the default
// size tile is returned instead.
func Transparent(w, h int) []byte {
	if w <= 0 || h <= 0 {
		w, h = DefaultTileSize, DefaultTileSize
	}
	key := image.Pt(w, h)
	if b, ok := transparent.Load(key); ok {
		return b.([]byte)
	}
	b, err := encodeTransparent(w, h)
	if err != nil {
		return fallbackTransparent
	}
	v, _ := transparent.LoadOrStore(key, b)
	return v.([]byte)
}

type bufferPool struct{ p sync.Pool }

func (bp *bufferPool) Get() *png.EncoderBuffer {
	if b, ok := bp.p.Get().(*png.EncoderBuffer); ok {
		return b
	}
	return nil
}

func (bp *bufferPool) Put(b *png.EncoderBuffer) { bp.p.Put(b) }
