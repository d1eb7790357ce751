// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	GridServiceURL   string
	GridFetchTimeout time.Duration

	Pollutants []string
	TileSize   int
	ZoomMin    int
	ZoomMax    int
	TileAlpha  int
	TileCrop   bool
	CacheSize  int
	// Cache-Control max-age for served tiles
	TileMaxAge time.Duration

	CacheL2        string
	RedisAddr      string
	CacheL2TTL     time.Duration
	CacheL2TTLOvr  map[string]time.Duration
	CacheOpTimeout time.Duration

	Invalidation InvalidationCfg

	MetricsEnabled bool
	// empty means /metrics on the main listener
	MetricsAddr string
}

// LoadDotEnv reads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		GridServiceURL:   getenv("GRID_SERVICE_URL", "http://localhost:8000/api/run-coach/pollution-heatmap"),
		GridFetchTimeout: getduration("GRID_FETCH_TIMEOUT", 5*time.Second),

		Pollutants: splitCSV(getenv("TILE_POLLUTANTS", "aqi")),
		TileSize:   getint("TILE_SIZE", 256),
		ZoomMin:    getint("TILE_ZOOM_MIN", 10),
		ZoomMax:    getint("TILE_ZOOM_MAX", 16),
		TileAlpha:  getint("TILE_ALPHA", 178),
		TileCrop:   getbool("TILE_CROP", false),
		CacheSize:  getint("TILE_CACHE_SIZE", 50),
		TileMaxAge: getduration("TILE_MAX_AGE", 5*time.Minute),

		CacheL2:        strings.ToLower(getenv("CACHE_L2", "none")),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheL2TTL:     getduration("CACHE_L2_TTL", 5*time.Minute),
		CacheL2TTLOvr:  parseDurationMap(getenv("CACHE_L2_TTL_OVERRIDES", "")),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 150*time.Millisecond),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "grid-refresh"),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getenv("KAFKA_GROUP_ID", "tile-invalidator"),
		},

		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
	}
}

// Validate rejects settings the tile pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ZoomMin < 0 || c.ZoomMax > 30 || c.ZoomMin > c.ZoomMax {
		errs = append(errs, fmt.Errorf("zoom range %d..%d is invalid", c.ZoomMin, c.ZoomMax))
	}
	if c.TileSize <= 0 || c.TileSize > 4096 {
		errs = append(errs, fmt.Errorf("TILE_SIZE %d out of range", c.TileSize))
	}
	if c.TileAlpha < 0 || c.TileAlpha > 255 {
		errs = append(errs, fmt.Errorf("TILE_ALPHA %d out of range 0..255", c.TileAlpha))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("TILE_CACHE_SIZE must be positive, got %d", c.CacheSize))
	}
	if len(c.Pollutants) == 0 {
		errs = append(errs, errors.New("TILE_POLLUTANTS is empty"))
	}
	switch c.CacheL2 {
	case "none", "":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("CACHE_L2=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_L2 %q", c.CacheL2))
	}
	if c.Invalidation.Enabled && (len(c.Invalidation.Brokers) == 0 || c.Invalidation.Topic == "") {
		errs = append(errs, errors.New("invalidation requires KAFKA_BROKERS and KAFKA_TOPIC"))
	}
	return errors.Join(errs...)
}

// L2TTL returns the shared-tier ttl for a pollutant.
func (c Config) L2TTL(pollutant string) time.Duration {
	if d, ok := c.CacheL2TTLOvr[pollutant]; ok {
		return d
	}
	return c.CacheL2TTL
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "pm25=2m,o3=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
