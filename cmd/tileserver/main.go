package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/config"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/observability"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/server"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/logger"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		return 2
	}
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "tileserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 2
	}

	appLog.Info("starting tileserver",
		"addr", cfg.Addr,
		"version", Version,
		"grid_service", cfg.GridServiceURL,
		"pollutants", cfg.Pollutants,
		"zoom_min", cfg.ZoomMin,
		"zoom_max", cfg.ZoomMax,
		"cache_l2", cfg.CacheL2)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var prom *metrics.Provider
	if cfg.MetricsEnabled {
		prom = metrics.Init(metrics.Config{Build: metrics.BuildFromEnv(Version)})
		observability.Init(prom.Registerer(), true)
	} else {
		observability.Init(nil, false)
	}
	observability.ExposeBuildInfo(Version)

	app, err := build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer app.close()

	var consumer *kafkaconsumer.Consumer
	if cfg.Invalidation.Enabled {
		consumer = kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog, &zl, app.invalidator)
		app.probes["kafka"] = consumer
	}

	deps := server.Deps{Layers: app.layers, Probes: app.probes}
	if prom != nil && cfg.MetricsAddr == "" {
		deps.Metrics = prom.Handler()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg, appLog, deps) })
	if prom != nil && cfg.MetricsAddr != "" {
		g.Go(func() error { return prom.Serve(gctx, cfg.MetricsAddr, appLog) })
	}
	if consumer != nil {
		// tiles keep being served without invalidation; /readyz reports it
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
