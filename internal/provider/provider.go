// Package provider turns tile requests into rendered heatmap tiles. A
// provider never fails: anything that goes wrong yields a transparent tile.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/observability"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/grid"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/logger"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/raster"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/tilemath"
)

var ErrRenderPanic = errors.New("provider: render panicked")

// Outcome says how a tile was produced.
type Outcome string

const (
	OutcomeHit       Outcome = "hit"
	OutcomeMiss      Outcome = "miss"
	OutcomeCoalesced Outcome = "coalesced"
	OutcomeSkip      Outcome = "skip"
	// OutcomeEmpty is a render over an empty grid; it is not cached.
	OutcomeEmpty    Outcome = "empty"
	OutcomeFallback Outcome = "fallback"
)

type rendered struct {
	png   []byte
	empty bool
	// found in the cache once the flight started
	cached bool
}

type Config struct {
	Pollutant string
	TileSize  int
	Zooms     tilemath.ZoomRange
	// WorkTimeout bounds a shared render, independent of any caller.
	WorkTimeout time.Duration
}

type Provider struct {
	cfg    Config
	source grid.Source
	cache  cache.Interface
	raster *raster.Rasterizer
	logger *slog.Logger
	group  singleflight.Group
	// nil when the cache does not track invalidations
	gens cache.Generational
}

func New(cfg Config, src grid.Source, c cache.Interface, r *raster.Rasterizer, log *slog.Logger) (*Provider, error) {
	if src == nil || c == nil || r == nil {
		return nil, errors.New("provider: source, cache and rasterizer are required")
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = raster.DefaultTileSize
	}
	if cfg.Zooms == (tilemath.ZoomRange{}) {
		cfg.Zooms = tilemath.DefaultZoomRange()
	}
	if cfg.Zooms.Min > cfg.Zooms.Max {
		return nil, fmt.Errorf("provider: invalid zoom range %d..%d", cfg.Zooms.Min, cfg.Zooms.Max)
	}
	if cfg.WorkTimeout <= 0 {
		cfg.WorkTimeout = grid.DefaultTimeout + time.Second
	}
	if cfg.Pollutant == "" {
		cfg.Pollutant = grid.DefaultPollutant
	}
	if log == nil {
		log = slog.Default()
	}
	gens, _ := c.(cache.Generational)
	return &Provider{cfg: cfg, source: src, cache: c, raster: r, logger: log, gens: gens}, nil
}

func (p *Provider) Pollutant() string { return p.cfg.Pollutant }

func (p *Provider) TileSize() int { return p.cfg.TileSize }

func (p *Provider) Zooms() tilemath.ZoomRange { return p.cfg.Zooms }

// GetTile returns encoded image bytes for the tile; it always succeeds.
func (p *Provider) GetTile(ctx context.Context, x, y, z int) []byte {
	b, _ := p.Tile(ctx, model.TileAddress{Z: z, X: x, Y: y})
	return b
}

// Tile is GetTile with the outcome reported.
func (p *Provider) Tile(ctx context.Context, a model.TileAddress) ([]byte, Outcome) {
	b, o := p.tile(ctx, a)
	observability.IncTileResult(p.cfg.Pollutant, string(o))
	return b, o
}

func (p *Provider) tile(ctx context.Context, a model.TileAddress) ([]byte, Outcome) {
	if !p.cfg.Zooms.Contains(a.Z) || !tilemath.Valid(a) {
		return p.transparent(), OutcomeSkip
	}
	if b, ok := p.cache.Get(ctx, a); ok {
		return b, OutcomeHit
	}

	// flights started before an invalidation are not joined after it
	gen := p.generation()
	ch := p.group.DoChan(fmt.Sprintf("%s@%d", a, gen), func() (any, error) {
		// the render outlives an abandoned caller so its result still lands in the cache
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WorkTimeout)
		defer cancel()
		// a flight for this tile may have filled the cache since the miss above
		if b, ok := p.cache.Get(wctx, a); ok {
			return rendered{png: b, cached: true}, nil
		}
		return p.render(wctx, a, gen)
	})

	select {
	case <-ctx.Done():
		return p.transparent(), OutcomeFallback
	case res := <-ch:
		if res.Err != nil {
			p.logger.WarnContext(ctx, "tile render failed", "tile", a.String(), "pollutant", p.cfg.Pollutant, "err", res.Err)
			return p.transparent(), OutcomeFallback
		}
		out, ok := res.Val.(rendered)
		if !ok {
			return p.transparent(), OutcomeFallback
		}
		switch {
		case out.cached:
			return out.png, OutcomeHit
		case out.empty:
			return out.png, OutcomeEmpty
		case res.Shared:
			return out.png, OutcomeCoalesced
		default:
			return out.png, OutcomeMiss
		}
	}
}

func (p *Provider) render(ctx context.Context, a model.TileAddress, gen uint64) (out rendered, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrRenderPanic, rec)
		}
	}()

	ctx = logger.WithTile(ctx, a.String())
	bounds := tilemath.ToBounds(a)
	g := p.source.Fetch(ctx, bounds)

	start := time.Now()
	b, err := p.raster.Rasterize(g, bounds, p.cfg.TileSize, p.cfg.TileSize)
	observability.ObserveRender(p.cfg.Pollutant, time.Since(start).Seconds())
	if err != nil {
		return rendered{}, fmt.Errorf("rasterize %s: %w", a, err)
	}

	// an empty grid is usually a transient upstream problem; retry on the next request
	if g.Empty() {
		return rendered{png: b, empty: true}, nil
	}
	p.store(ctx, a, b, gen)
	return rendered{png: b}, nil
}

func (p *Provider) generation() uint64 {
	if p.gens == nil {
		return 0
	}
	return p.gens.Generation()
}

// store caches b unless the layer was invalidated while it rendered; the
// caller still gets b, the next request renders again.
func (p *Provider) store(ctx context.Context, a model.TileAddress, b []byte, gen uint64) {
	if p.gens == nil {
		p.cache.Put(ctx, a, b)
		return
	}
	if !p.gens.PutAt(ctx, a, b, gen) {
		p.logger.DebugContext(ctx, "layer invalidated during render, not caching", "tile", a.String(), "pollutant", p.cfg.Pollutant)
	}
}

func (p *Provider) transparent() []byte {
	return raster.Transparent(p.cfg.TileSize, p.cfg.TileSize)
}
