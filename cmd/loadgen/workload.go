package main

import (
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// hot spots users keep coming back to; the first ones are the hottest
var hotSpots = []orb.Point{
	{18.0686, 59.3293}, // Stockholm
	{11.9746, 57.7089}, // Göteborg
	{13.0038, 55.6050}, // Malmö
	{17.6389, 59.8586}, // Uppsala
	{22.1547, 65.5848}, // Luleå
}

const maxLat = 85.0

type viewport struct {
	center orb.Point
	zoom   maptile.Zoom
	cols   int
	rows   int
}

// tiles lists the tiles a map client would request to paint v. Columns wrap
// across the antimeridian; rows past the poles are dropped.
func (v viewport) tiles() []maptile.Tile {
	c := maptile.At(v.center, v.zoom)
	n := int64(1) << v.zoom
	out := make([]maptile.Tile, 0, v.cols*v.rows)
	for dy := -v.rows / 2; dy < v.rows-v.rows/2; dy++ {
		y := int64(c.Y) + int64(dy)
		if y < 0 || y >= n {
			continue
		}
		for dx := -v.cols / 2; dx < v.cols-v.cols/2; dx++ {
			x := ((int64(c.X)+int64(dx))%n + n) % n
			out = append(out, maptile.New(uint32(x), uint32(y), v.zoom))
		}
	}
	return out
}

type panner struct {
	r        *rand.Rand
	zipf     *rand.Zipf
	minZoom  maptile.Zoom
	maxZoom  maptile.Zoom
	jumpProb float64
	zoomProb float64
}

func newPanner(r *rand.Rand, minZoom, maxZoom int, jumpProb, zoomProb float64) *panner {
	return &panner{
		r:        r,
		zipf:     rand.NewZipf(r, 1.3, 1, uint64(len(hotSpots)-1)),
		minZoom:  maptile.Zoom(minZoom),
		maxZoom:  maptile.Zoom(maxZoom),
		jumpProb: jumpProb,
		zoomProb: zoomProb,
	}
}

func (p *panner) start(cols, rows int) viewport {
	return viewport{
		center: hotSpots[p.zipf.Uint64()],
		zoom:   p.minZoom + maptile.Zoom(p.r.Intn(int(p.maxZoom-p.minZoom)+1)),
		cols:   cols,
		rows:   rows,
	}
}

// next moves the viewport the way a user drags a map: mostly short pans,
// sometimes a zoom step, rarely a jump to another hot spot.
func (p *panner) next(v viewport) viewport {
	if p.r.Float64() < p.jumpProb {
		v.center = hotSpots[p.zipf.Uint64()]
		return v
	}
	if p.r.Float64() < p.zoomProb {
		if p.r.Intn(2) == 0 && v.zoom > p.minZoom {
			v.zoom--
		} else if v.zoom < p.maxZoom {
			v.zoom++
		}
		return v
	}

	// up to one tile in each direction
	b := maptile.At(v.center, v.zoom).Bound()
	dx := (p.r.Float64()*2 - 1) * (b.Right() - b.Left())
	dy := (p.r.Float64()*2 - 1) * (b.Top() - b.Bottom())
	v.center = orb.Point{wrapLon(v.center.Lon() + dx), clampLat(v.center.Lat() + dy)}
	return v
}

func wrapLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func clampLat(lat float64) float64 {
	return math.Max(-maxLat, math.Min(maxLat, lat))
}

// tileURL builds "<base>/tiles/<pollutant>/<z>/<x>/<y>.png"; an empty
// pollutant targets the default layer.
func tileURL(base *url.URL, pollutant string, t maptile.Tile) string {
	u := *base
	path := strings.TrimRight(u.Path, "/") + "/tiles"
	if pollutant != "" {
		path += "/" + url.PathEscape(pollutant)
	}
	u.Path = fmt.Sprintf("%s/%d/%d/%d.png", path, t.Z, t.X, t.Y)
	return u.String()
}
