// Package grid fetches pollution value grids from the upstream heatmap service.
package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/observability"
)

const (
	// approximate km per degree, good enough at heatmap tile granularity
	KmPerDegree = 111.0

	DefaultPollutant = "aqi"
	DefaultTimeout   = 5 * time.Second

	maxBodyBytes = 8 << 20
)

var (
	ErrUpstreamStatus = errors.New("grid: unexpected upstream status")
	ErrMalformedGrid  = errors.New("grid: malformed upstream grid")
)

// Pollutants the upstream service can interpolate.
var Pollutants = []string{"aqi", "pm25", "pm10", "o3", "no2"}

func KnownPollutant(p string) bool {
	for _, k := range Pollutants {
		if k == p {
			return true
		}
	}
	return false
}

// Source returns a grid covering (at least) a bounding box. Implementations
// never fail: problems are reported as an empty grid.
type Source interface {
	Fetch(ctx context.Context, bounds model.BBox) model.Grid
}

type Request struct {
	CenterLat float64
	CenterLon float64
	RadiusKm  float64
	Pollutant string
}

// RequestFor derives the upstream request covering bounds.
func RequestFor(bounds model.BBox, pollutant string) Request {
	lat, lon := bounds.Center()
	span := math.Max(math.Abs(bounds.North-bounds.South), math.Abs(bounds.West-bounds.East))
	if pollutant == "" {
		pollutant = DefaultPollutant
	}
	return Request{CenterLat: lat, CenterLon: lon, RadiusKm: span * KmPerDegree, Pollutant: pollutant}
}

func (r Request) Query() url.Values {
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(r.CenterLat, 'f', 6, 64))
	v.Set("lon", strconv.FormatFloat(r.CenterLon, 'f', 6, 64))
	v.Set("radius_km", strconv.FormatFloat(r.RadiusKm, 'f', 3, 64))
	v.Set("pollutant", r.Pollutant)
	return v
}

type Config struct {
	BaseURL   string
	Pollutant string
	Timeout   time.Duration
}

type Fetcher struct {
	logger    *slog.Logger
	http      *http.Client
	base      *url.URL
	pollutant string
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
}

func New(cfg Config, logger *slog.Logger, client *http.Client) (*Fetcher, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse grid service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported grid service scheme %q", u.Scheme)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Pollutant == "" {
		cfg.Pollutant = DefaultPollutant
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "grid-" + cfg.Pollutant,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about upstream health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("grid breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Fetcher{
		logger:    logger,
		http:      client,
		base:      u,
		pollutant: cfg.Pollutant,
		timeout:   cfg.Timeout,
		breaker:   cb,
	}, nil
}

func (f *Fetcher) Pollutant() string { return f.pollutant }

// Fetch issues one request for the grid around bounds. Any failure yields an
// empty grid.
func (f *Fetcher) Fetch(ctx context.Context, bounds model.BBox) model.Grid {
	g, err := f.FetchErr(ctx, bounds)
	if err != nil {
		f.logger.DebugContext(ctx, "grid fetch failed, rendering empty",
			"pollutant", f.pollutant, "bounds", bounds.String(), "err", err)
		return model.EmptyGrid()
	}
	return g
}

// FetchErr is Fetch without the empty-grid normalization.
func (f *Fetcher) FetchErr(ctx context.Context, bounds model.BBox) (model.Grid, error) {
	req := RequestFor(bounds, f.pollutant)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	res, err := f.breaker.Execute(func() (any, error) {
		return f.do(ctx, req)
	})
	observability.ObserveUpstreamLatency("grid_"+f.pollutant, time.Since(start).Seconds())
	if err != nil {
		observability.IncUpstreamError("grid", errorKind(err))
		return model.Grid{}, err
	}
	g, ok := res.(model.Grid)
	if !ok {
		return model.Grid{}, fmt.Errorf("unexpected breaker result %T", res)
	}
	return g, nil
}

func (f *Fetcher) do(ctx context.Context, r Request) (model.Grid, error) {
	u := *f.base
	u.RawQuery = r.Query().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Grid{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return model.Grid{}, fmt.Errorf("grid request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Warn("close response body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Grid{}, fmt.Errorf("%w: status=%d body=%q", ErrUpstreamStatus, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return model.Grid{}, fmt.Errorf("%w: decode: %v", ErrMalformedGrid, err)
	}
	return body.Grid()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrUpstreamStatus):
		return "status"
	case errors.Is(err, ErrMalformedGrid):
		return "malformed"
	default:
		return "transport"
	}
}
