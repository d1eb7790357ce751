// Package router turns tile URLs into provider calls and writes PNG responses.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/logger"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/provider"
)

const (
	HeaderTileCache = "X-Tile-Cache"
	contentTypePNG  = "image/png"
)

type Options struct {
	// MaxAge is sent as Cache-Control max-age on rendered tiles.
	MaxAge time.Duration
}

// HandleTile serves /tiles/{z}/{x}/{y}.png and /tiles/{pollutant}/{z}/{x}/{y}.png.
func HandleTile(log *slog.Logger, layers *provider.Layers, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := layers.Default()
		if name := chi.URLParam(r, "pollutant"); name != "" {
			var ok bool
			if p, ok = layers.Get(strings.ToLower(name)); !ok {
				http.Error(w, fmt.Sprintf("unknown pollutant %q", name), http.StatusNotFound)
				return
			}
		}

		a, err := ParseTileAddress(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := logger.WithPollutant(r.Context(), p.Pollutant())
		ctx = logger.WithTile(ctx, a.String())
		b, outcome := p.Tile(ctx, a)
		log.DebugContext(ctx, "tile served", "outcome", string(outcome), "bytes", len(b))

		etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(b))
		h := w.Header()
		h.Set(HeaderTileCache, cacheHeader(outcome))
		h.Set("Cache-Control", cacheControl(outcome, opts.MaxAge))
		if outcome != provider.OutcomeFallback && outcome != provider.OutcomeEmpty {
			h.Set("ETag", etag)
			if match(r.Header.Get("If-None-Match"), etag) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
		h.Set("Content-Type", contentTypePNG)
		h.Set("Content-Length", strconv.Itoa(len(b)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

// HandleLayers describes the configured pollutant layers.
func HandleLayers(layers *provider.Layers) http.HandlerFunc {
	type layer struct {
		Pollutant string `json:"pollutant"`
		Default   bool   `json:"default"`
		MinZoom   int    `json:"minzoom"`
		MaxZoom   int    `json:"maxzoom"`
		TileSize  int    `json:"tile_size"`
		Template  string `json:"template"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		def := layers.Default().Pollutant()
		var out []layer
		for _, name := range layers.Names() {
			p, _ := layers.Get(name)
			zr := p.Zooms()
			out = append(out, layer{
				Pollutant: name,
				Default:   name == def,
				MinZoom:   zr.Min,
				MaxZoom:   zr.Max,
				TileSize:  p.TileSize(),
				Template:  "/tiles/" + name + "/{z}/{x}/{y}.png",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

// ParseTileAddress parses path segments; range checks are left to the provider.
func ParseTileAddress(z, x, y string) (model.TileAddress, error) {
	zi, err := parseInt("z", z)
	if err != nil {
		return model.TileAddress{}, err
	}
	xi, err := parseInt("x", x)
	if err != nil {
		return model.TileAddress{}, err
	}
	yi, err := parseInt("y", strings.TrimSuffix(y, ".png"))
	if err != nil {
		return model.TileAddress{}, err
	}
	return model.TileAddress{Z: zi, X: xi, Y: yi}, nil
}

func parseInt(name, v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("missing tile %s", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return 0, fmt.Errorf("tile %s out of range", name)
		}
		return 0, fmt.Errorf("tile %s must be an integer, got %q", name, v)
	}
	return n, nil
}

func cacheHeader(o provider.Outcome) string {
	switch o {
	case provider.OutcomeHit:
		return "hit"
	case provider.OutcomeSkip:
		return "skip"
	default:
		return "miss"
	}
}

func cacheControl(o provider.Outcome, maxAge time.Duration) string {
	if o == provider.OutcomeFallback || o == provider.OutcomeEmpty || maxAge <= 0 {
		return "no-store"
	}
	return fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds()))
}

func match(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for t := range strings.SplitSeq(ifNoneMatch, ",") {
		t = strings.TrimPrefix(strings.TrimSpace(t), "W/")
		if t == etag || t == "*" {
			return true
		}
	}
	return false
}
