package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
	obs "github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/observability"
	mylog "github.com/mohammed-shakir/aq-heatmap-tiles/internal/logger"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/tilemath"
)

// DefaultMaxTiles caps the per-event cover; larger refreshes purge the layer.
const DefaultMaxTiles = 20000

// Target is the tile store of one pollutant layer (tiered.Cache).
type Target interface {
	Remove(ctx context.Context, addrs ...model.TileAddress) int
	Purge(ctx context.Context) error
}

// Result summarises one applied event.
type Result struct {
	// Tiles sums Target.Remove over the zoom range. For a tiered target each
	// term is the larger per-tier count, so it is a lower bound on tiles dropped.
	Tiles   int
	Purged  bool
	Skipped string
}

type Invalidator struct {
	targets  map[string]Target
	zooms    tilemath.ZoomRange
	maxTiles uint64
	dedupe   *versionDedupe
	logger   *slog.Logger
}

type Option func(*Invalidator)

func WithMaxTiles(n int) Option {
	return func(i *Invalidator) {
		if n > 0 {
			i.maxTiles = uint64(n)
		}
	}
}

func New(targets map[string]Target, zooms tilemath.ZoomRange, logger *slog.Logger, opts ...Option) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Invalidator{
		targets:  targets,
		zooms:    zooms,
		maxTiles: DefaultMaxTiles,
		dedupe:   newVersionDedupe(len(targets) * 4),
		logger:   logger,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Apply drops the tiles an event makes stale. Unknown pollutants and versions
// at or below the last applied one are skipped.
func (i *Invalidator) Apply(ctx context.Context, ev Event) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid event: %w", err)
	}
	ctx = mylog.WithPollutant(ctx, ev.Pollutant)

	t, ok := i.targets[ev.Pollutant]
	if !ok {
		i.logger.DebugContext(ctx, "refresh for unserved pollutant (skipping)")
		return Result{Skipped: "unknown_pollutant"}, nil
	}
	if i.dedupe.stale(ev.Pollutant, ev.Version) {
		i.logger.DebugContext(ctx, "stale refresh version (skipping)", "version", ev.Version)
		return Result{Skipped: "stale_version"}, nil
	}

	start := time.Now()
	res, err := i.apply(ctx, t, ev)
	obs.ObserveInvalidation(ev.Pollutant, res.Tiles, err)
	if err != nil {
		return res, err
	}
	// recorded only on success so a failed event is retried on redelivery
	i.dedupe.record(ev.Pollutant, ev.Version)
	i.logger.DebugContext(ctx, "invalidated tiles",
		"version", ev.Version, "tiles", res.Tiles, "purged", res.Purged, "took", time.Since(start))
	return res, nil
}

func (i *Invalidator) apply(ctx context.Context, t Target, ev Event) (Result, error) {
	if ev.BBox == nil {
		return i.purge(ctx, t)
	}
	b := ev.BBox.Model()

	var total uint64
	for _, z := range i.zooms.Zooms() {
		total += tilemath.CoverSize(b, z)
		if total > i.maxTiles {
			return i.purge(ctx, t)
		}
	}

	removed := 0
	for _, z := range i.zooms.Zooms() {
		removed += t.Remove(ctx, tilemath.Cover(b, z)...)
	}
	return Result{Tiles: removed}, nil
}

func (i *Invalidator) purge(ctx context.Context, t Target) (Result, error) {
	if err := t.Purge(ctx); err != nil {
		return Result{Purged: true}, fmt.Errorf("purge layer: %w", err)
	}
	return Result{Purged: true}, nil
}
