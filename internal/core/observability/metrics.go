package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Upstream call failures by kind.",
		},
		[]string{"upstream", "kind"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	tileResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_results_total",
			Help: "Tile requests by outcome (hit, miss, coalesced, skip, fallback).",
		},
		[]string{"pollutant", "outcome"},
	)

	tileRenderSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_render_duration_seconds",
			Help:    "Time spent rasterizing and encoding a tile.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"pollutant"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache operations by tier, op and result.",
		},
		[]string{"tier", "op", "result"},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"tier", "op"},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_evictions_total",
			Help: "Tiles evicted from the in-memory cache for space.",
		},
		[]string{"pollutant"},
	)

	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tile_cache_entries",
			Help: "Tiles currently held in the in-memory cache.",
		},
		[]string{"pollutant"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_invalidations_total",
			Help: "Grid refresh events applied, by result.",
		},
		[]string{"pollutant", "result"},
	)

	invalidatedTiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_invalidated_tiles_total",
			Help: "Tile addresses dropped by grid refresh events.",
		},
		[]string{"pollutant"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

var collectors = []prometheus.Collector{
	httpRequestsTotal, httpRequestDurationSeconds,
	upstreamLatencySeconds, upstreamErrors,
	tileResults, tileRenderSeconds,
	cacheOpTotal, cacheOpDuration, cacheEvictions, cacheEntries,
	invalidationsTotal, invalidatedTiles, kafkaConsumerErrors,
}

func init() {
	prometheus.MustRegister(buildInfo)
	Init(prometheus.DefaultRegisterer, true)
}

// Init registers the service metrics on reg; collectors already present are kept.
// Build info is left to the registry owner (see metrics.Provider).
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamError(upstream, kind string) {
	upstreamErrors.WithLabelValues(upstream, kind).Inc()
}

func IncTileResult(pollutant, outcome string) {
	tileResults.WithLabelValues(pollutant, outcome).Inc()
}

func ObserveRender(pollutant string, durationSeconds float64) {
	tileRenderSeconds.WithLabelValues(pollutant).Observe(durationSeconds)
}

// ObserveCacheOp records one cache operation for the given tier (l1, l2).
func ObserveCacheOp(tier, op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(tier, op, result).Inc()
	cacheOpDuration.WithLabelValues(tier, op).Observe(durationSeconds)
}

func IncCacheEviction(pollutant string) {
	cacheEvictions.WithLabelValues(pollutant).Inc()
}

func SetCacheEntries(pollutant string, n int) {
	cacheEntries.WithLabelValues(pollutant).Set(float64(n))
}

func ObserveInvalidation(pollutant string, tiles int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationsTotal.WithLabelValues(pollutant, result).Inc()
	if tiles > 0 {
		invalidatedTiles.WithLabelValues(pollutant).Add(float64(tiles))
	}
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
