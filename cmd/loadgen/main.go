// Command loadgen simulates map clients panning over the heatmap layers and
// reports latency and the tile cache hit ratio. With -invalidate it instead
// publishes one grid refresh event to kafka.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/logger"
)

type Config struct {
	TargetURL      string
	Pollutant      string
	Concurrency    int
	Duration       time.Duration
	MinZoom        int
	MaxZoom        int
	Cols           int
	Rows           int
	JumpProb       float64
	ZoomProb       float64
	Think          time.Duration
	RequestTimeout time.Duration
	OutputPrefix   string
	Seed           int64

	Invalidate string
	BBox       string
	Brokers    string
	Topic      string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090", "Tile server base URL")
	flag.StringVar(&cfg.Pollutant, "pollutant", "", "Layer to request (empty = default layer)")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "Simulated map clients")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.IntVar(&cfg.MinZoom, "zmin", 10, "Lowest zoom a client visits")
	flag.IntVar(&cfg.MaxZoom, "zmax", 16, "Highest zoom a client visits")
	flag.IntVar(&cfg.Cols, "cols", 4, "Viewport width in tiles")
	flag.IntVar(&cfg.Rows, "rows", 3, "Viewport height in tiles")
	flag.Float64Var(&cfg.JumpProb, "jump", 0.05, "Probability a step jumps to another hot spot")
	flag.Float64Var(&cfg.ZoomProb, "zoom", 0.15, "Probability a step changes zoom")
	flag.DurationVar(&cfg.Think, "think", 200*time.Millisecond, "Pause between viewport moves")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.OutputPrefix, "out", "", "Write <prefix>_samples.csv and <prefix>_summary.json")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed (0 = time based)")

	flag.StringVar(&cfg.Invalidate, "invalidate", "", "Publish a refresh event for this pollutant and exit")
	flag.StringVar(&cfg.BBox, "bbox", "", "Refresh area minLon,minLat,maxLon,maxLat (empty = whole layer)")
	flag.StringVar(&cfg.Brokers, "brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "Kafka brokers")
	flag.StringVar(&cfg.Topic, "topic", getenv("KAFKA_TOPIC", "grid-refresh"), "Kafka topic")
	flag.Parse()
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Cache     string
	Tile      string
	ErrorMsg  string
}

type summary struct {
	StartTime     time.Time      `json:"start"`
	EndTime       time.Time      `json:"end"`
	DurationSec   float64        `json:"duration_sec"`
	TotalRequests int64          `json:"total"`
	ErrorCount    int64          `json:"errors"`
	ThroughputRPS float64        `json:"throughput_rps"`
	HitRatio      float64        `json:"hit_ratio"`
	CacheHeaders  map[string]int `json:"x_tile_cache"`
	P50Ms         float64        `json:"p50_ms"`
	P95Ms         float64        `json:"p95_ms"`
	P99Ms         float64        `json:"p99_ms"`
	HitP50Ms      float64        `json:"hit_p50_ms"`
	MissP50Ms     float64        `json:"miss_p50_ms"`
	Concurrency   int            `json:"concurrency"`
	TargetURL     string         `json:"target"`
	Pollutant     string         `json:"pollutant"`
}

// tally aggregates samples; it is owned by a single goroutine.
type tally struct {
	total, errors int64
	headers       map[string]int
	latMs         []float64
	hitMs         []float64
	missMs        []float64
}

func newTally() *tally { return &tally{headers: map[string]int{}} }

func (t *tally) add(s sample) {
	t.total++
	if s.ErrorMsg != "" {
		t.errors++
		return
	}
	ms := float64(s.Latency.Microseconds()) / 1000.0
	t.latMs = append(t.latMs, ms)
	t.headers[s.Cache]++
	switch s.Cache {
	case "hit":
		t.hitMs = append(t.hitMs, ms)
	case "miss":
		t.missMs = append(t.missMs, ms)
	}
}

// hitRatio counts only cacheable answers; skipped tiles never reach the cache.
func (t *tally) hitRatio() float64 {
	hit, miss := t.headers["hit"], t.headers["miss"]
	if hit+miss == 0 {
		return 0
	}
	return float64(hit) / float64(hit+miss)
}

func main() {
	cfg := loadConfig()
	zl := logger.Build(logger.Config{Level: "info", Console: true, Component: "loadgen"}, os.Stderr)
	log := logger.NewSlog(&zl)

	if cfg.Invalidate != "" {
		os.Exit(runInvalidate(cfg, log))
	}
	os.Exit(runLoad(cfg, log))
}

func runInvalidate(cfg Config, log *slog.Logger) int {
	bb, err := parseBBox(cfg.BBox)
	if err != nil {
		log.Error("bad bbox", "err", err)
		return 2
	}
	ev := refreshEvent(strings.ToLower(cfg.Invalidate), bb, time.Now())
	brokers := strings.Split(cfg.Brokers, ",")
	if err := publish(brokers, cfg.Topic, ev); err != nil {
		log.Error("publish failed", "err", err)
		return 1
	}
	log.Info("published refresh event", "topic", cfg.Topic, "pollutant", ev.Pollutant, "version", ev.Version, "whole_layer", bb == nil)
	return 0
}

func runLoad(cfg Config, log *slog.Logger) int {
	base, err := url.Parse(cfg.TargetURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		log.Error("bad target url", "target", cfg.TargetURL, "err", err)
		return 2
	}
	if cfg.MinZoom < 0 || cfg.MinZoom > cfg.MaxZoom || cfg.Cols <= 0 || cfg.Rows <= 0 || cfg.Concurrency <= 0 {
		log.Error("bad workload settings", "zmin", cfg.MinZoom, "zmax", cfg.MaxZoom, "cols", cfg.Cols, "rows", cfg.Rows)
		return 2
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        1024,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	var csvWriter *csv.Writer
	if cfg.OutputPrefix != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
			log.Error("mkdir results", "err", err)
			return 1
		}
		f, err := os.Create(filepath.Clean(cfg.OutputPrefix + "_samples.csv"))
		if err != nil {
			log.Error("open csv", "err", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		csvWriter = csv.NewWriter(f)
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "x_tile_cache", "tile", "error"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samples := make(chan sample, 4096)
	done := make(chan *tally, 1)
	go func() {
		t := newTally()
		for s := range samples {
			t.add(s)
			if csvWriter != nil {
				_ = csvWriter.Write([]string{
					s.Timestamp.UTC().Format(time.RFC3339Nano),
					strconv.FormatFloat(float64(s.Latency.Microseconds())/1000.0, 'f', 3, 64),
					strconv.Itoa(s.Status),
					s.Cache,
					s.Tile,
					s.ErrorMsg,
				})
			}
		}
		if csvWriter != nil {
			csvWriter.Flush()
		}
		done <- t
	}()

	start := time.Now()
	log.Info("loadgen start", "target", cfg.TargetURL, "pollutant", cfg.Pollutant,
		"duration", cfg.Duration.String(), "concurrency", cfg.Concurrency, "zmin", cfg.MinZoom, "zmax", cfg.MaxZoom)

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := newPanner(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.MinZoom, cfg.MaxZoom, cfg.JumpProb, cfg.ZoomProb)
			v := p.start(cfg.Cols, cfg.Rows)
			for ctx.Err() == nil {
				for _, t := range v.tiles() {
					s := fetch(ctx, httpClient, tileURL(base, cfg.Pollutant, t))
					s.Tile = fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
					if ctx.Err() != nil {
						return
					}
					samples <- s
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.Think):
				}
				v = p.next(v)
			}
		}()
	}
	wg.Wait()
	close(samples)
	t := <-done

	end := time.Now()
	elapsed := end.Sub(start).Seconds()
	sort.Float64s(t.latMs)
	sort.Float64s(t.hitMs)
	sort.Float64s(t.missMs)
	sum := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: t.total,
		ErrorCount:    t.errors,
		ThroughputRPS: float64(t.total) / elapsed,
		HitRatio:      t.hitRatio(),
		CacheHeaders:  t.headers,
		P50Ms:         percentile(t.latMs, 50),
		P95Ms:         percentile(t.latMs, 95),
		P99Ms:         percentile(t.latMs, 99),
		HitP50Ms:      percentile(t.hitMs, 50),
		MissP50Ms:     percentile(t.missMs, 50),
		Concurrency:   cfg.Concurrency,
		TargetURL:     cfg.TargetURL,
		Pollutant:     cfg.Pollutant,
	}

	if cfg.OutputPrefix != "" {
		if f, err := os.Create(filepath.Clean(cfg.OutputPrefix + "_summary.json")); err == nil {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			_ = enc.Encode(sumForJSON(sum))
			_ = f.Close()
		}
	}

	log.Info("done",
		"total", sum.TotalRequests, "errors", sum.ErrorCount,
		"rps", fmt.Sprintf("%.1f", sum.ThroughputRPS),
		"hit_ratio", fmt.Sprintf("%.3f", sum.HitRatio),
		"p50_ms", sum.P50Ms, "p95_ms", sum.P95Ms, "p99_ms", sum.P99Ms,
		"hit_p50_ms", sum.HitP50Ms, "miss_p50_ms", sum.MissP50Ms)
	return 0
}

func fetch(ctx context.Context, c *http.Client, u string) sample {
	s := sample{Timestamp: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	resp, err := c.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.Status = resp.StatusCode
	s.Cache = resp.Header.Get("X-Tile-Cache")
	if resp.StatusCode != http.StatusOK {
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}

// NaN is not valid JSON; empty percentiles are written as 0.
func sumForJSON(s summary) summary {
	for _, p := range []*float64{&s.P50Ms, &s.P95Ms, &s.P99Ms, &s.HitP50Ms, &s.MissP50Ms} {
		if math.IsNaN(*p) {
			*p = 0
		}
	}
	return s
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
