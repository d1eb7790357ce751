package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	c := FromEnv()
	if c.ZoomMin != 10 || c.ZoomMax != 16 {
		t.Fatalf("zoom=%d..%d want 10..16", c.ZoomMin, c.ZoomMax)
	}
	if c.CacheSize != 50 || c.TileSize != 256 || c.TileAlpha != 178 {
		t.Fatalf("unexpected tile defaults: %+v", c)
	}
	if c.GridFetchTimeout != 5*time.Second {
		t.Fatalf("fetch timeout=%v want 5s", c.GridFetchTimeout)
	}
	if len(c.Pollutants) != 1 || c.Pollutants[0] != "aqi" {
		t.Fatalf("pollutants=%v want [aqi]", c.Pollutants)
	}
	if !c.MetricsEnabled || c.MetricsAddr != "" {
		t.Fatalf("metrics defaults: enabled=%v addr=%q", c.MetricsEnabled, c.MetricsAddr)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TILE_POLLUTANTS", " PM25, o3 ,,")
	t.Setenv("TILE_ZOOM_MIN", "8")
	t.Setenv("TILE_CROP", "yes")
	t.Setenv("CACHE_L2", "Redis")
	t.Setenv("CACHE_L2_TTL", "2m")
	t.Setenv("CACHE_L2_TTL_OVERRIDES", "o3=30s,bad,pm10=nope")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TILE_CACHE_SIZE", "not-a-number")

	c := FromEnv()
	if strings.Join(c.Pollutants, ",") != "pm25,o3" {
		t.Fatalf("pollutants=%v", c.Pollutants)
	}
	if c.ZoomMin != 8 || !c.TileCrop || c.CacheL2 != "redis" {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if c.CacheSize != 50 {
		t.Fatalf("unparsable int should fall back to default, got %d", c.CacheSize)
	}
	if c.L2TTL("o3") != 30*time.Second || c.L2TTL("pm25") != 2*time.Minute {
		t.Fatalf("ttl o3=%v pm25=%v", c.L2TTL("o3"), c.L2TTL("pm25"))
	}
	if len(c.Invalidation.Brokers) != 2 {
		t.Fatalf("brokers=%v", c.Invalidation.Brokers)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"inverted zoom":  func(c *Config) { c.ZoomMin, c.ZoomMax = 16, 10 },
		"alpha":          func(c *Config) { c.TileAlpha = 300 },
		"cache size":     func(c *Config) { c.CacheSize = 0 },
		"no pollutants":  func(c *Config) { c.Pollutants = nil },
		"unknown l2":     func(c *Config) { c.CacheL2 = "memcached" },
		"kafka no topic": func(c *Config) { c.Invalidation.Enabled = true; c.Invalidation.Topic = "" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			c := FromEnv()
			mut(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.env")
	if err := os.WriteFile(p, []byte("TILE_SIZE=512\nTILE_ALPHA=100\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TILE_ALPHA", "90")
	t.Cleanup(func() { _ = os.Unsetenv("TILE_SIZE") })

	if err := LoadDotEnv(p, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	c := FromEnv()
	if c.TileSize != 512 {
		t.Fatalf("tile size=%d want 512 from file", c.TileSize)
	}
	if c.TileAlpha != 90 {
		t.Fatalf("alpha=%d: existing env must win over file", c.TileAlpha)
	}
}
