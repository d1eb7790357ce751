package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/keys"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/redisstore"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/tiered"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/tilecache"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/config"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/health"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/httpclient"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/grid"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/invalidation"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/provider"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/raster"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/tilemath"
)

type app struct {
	layers      *provider.Layers
	invalidator *invalidation.Invalidator
	probes      map[string]health.Probe
	redis       *redisstore.Client
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// build assembles one provider per configured pollutant, all sharing the
// outbound client, the rasterizer and (when enabled) the redis tier.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{probes: map[string]health.Probe{}}

	if cfg.CacheL2 == "redis" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("redis l2: %w", err)
		}
		a.redis = rc
		a.probes["redis"] = rc
	}

	client := httpclient.NewOutbound(cfg.GridFetchTimeout)
	alpha := uint8(cfg.TileAlpha) // 0..255, checked by Validate
	r := raster.New(alpha, raster.WithCrop(cfg.TileCrop))
	style := keys.Style{Size: cfg.TileSize, Alpha: alpha, Crop: cfg.TileCrop}
	zooms := tilemath.ZoomRange{Min: cfg.ZoomMin, Max: cfg.ZoomMax}

	providers := make([]*provider.Provider, 0, len(cfg.Pollutants))
	targets := make(map[string]invalidation.Target, len(cfg.Pollutants))
	for _, p := range cfg.Pollutants {
		if !grid.KnownPollutant(p) {
			log.Warn("pollutant not in the known upstream set; serving anyway", "pollutant", p)
		}

		f, err := grid.New(grid.Config{
			BaseURL:   cfg.GridServiceURL,
			Pollutant: p,
			Timeout:   cfg.GridFetchTimeout,
		}, log, client)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("grid fetcher %s: %w", p, err)
		}

		l1, err := tilecache.New(cfg.CacheSize, tilecache.WithPollutant(p))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("tile cache %s: %w", p, err)
		}
		opts := []tiered.Option{
			tiered.WithPollutant(p),
			tiered.WithStyle(style),
			tiered.WithOpTimeout(cfg.CacheOpTimeout),
		}
		if a.redis != nil {
			opts = append(opts, tiered.WithShared(a.redis, cfg.L2TTL(p)))
		}
		c := tiered.New(l1, log, opts...)

		prov, err := provider.New(provider.Config{
			Pollutant:   p,
			TileSize:    cfg.TileSize,
			Zooms:       zooms,
			WorkTimeout: cfg.GridFetchTimeout + cfg.GridFetchTimeout/2,
		}, f, c, r, log)
		if err != nil {
			a.close()
			return nil, err
		}
		providers = append(providers, prov)
		targets[p] = c
	}

	layers, err := provider.NewLayers(providers...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.layers = layers
	a.invalidator = invalidation.New(targets, zooms, log)
	return a, nil
}
