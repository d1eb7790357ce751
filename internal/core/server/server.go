// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/config"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/health"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/middleware"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/router"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/provider"
)

type Deps struct {
	Layers *provider.Layers
	// Metrics, if set, is mounted at /metrics on the main listener.
	Metrics http.Handler
	Probes  map[string]health.Probe
}

func NewRouter(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Probes))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	tile := router.HandleTile(logger, d.Layers, router.Options{MaxAge: cfg.TileMaxAge})
	r.Get("/tiles/{z}/{x}/{y}.png", tile)
	r.Get("/tiles/{pollutant}/{z}/{x}/{y}.png", tile)
	r.Get("/layers", router.HandleLayers(d.Layers))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.GridFetchTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
