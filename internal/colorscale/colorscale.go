// Package colorscale maps pollutant index values to EPA AQI category colors.
package colorscale

import (
	"image/color"
	"math"
)

type Category int

const (
	Good Category = iota
	Moderate
	UnhealthySensitive
	Unhealthy
	VeryUnhealthy
	Hazardous
)

func (c Category) String() string {
	switch c {
	case Good:
		return "good"
	case Moderate:
		return "moderate"
	case UnhealthySensitive:
		return "unhealthy_sensitive"
	case Unhealthy:
		return "unhealthy"
	case VeryUnhealthy:
		return "very_unhealthy"
	case Hazardous:
		return "hazardous"
	default:
		return "unknown"
	}
}

// upper bounds (inclusive) of every category but the last
var breakpoints = [...]float64{50, 100, 150, 200, 300}

var palette = [...]color.NRGBA{
	Good:               {R: 0x00, G: 0xE4, B: 0x00, A: 0xFF},
	Moderate:           {R: 0xFF, G: 0xFF, B: 0x00, A: 0xFF},
	UnhealthySensitive: {R: 0xFF, G: 0x7E, B: 0x00, A: 0xFF},
	Unhealthy:          {R: 0xFF, G: 0x00, B: 0x00, A: 0xFF},
	VeryUnhealthy:      {R: 0x8F, G: 0x3F, B: 0x97, A: 0xFF},
	Hazardous:          {R: 0x7E, G: 0x00, B: 0x23, A: 0xFF},
}

// CategoryFor places v in a half-open interval (lo, hi]; a breakpoint value
// belongs to the lower category. NaN is treated as Good.
func CategoryFor(v float64) Category {
	if math.IsNaN(v) {
		return Good
	}
	for i, hi := range breakpoints {
		if v <= hi {
			return Category(i)
		}
	}
	return Hazardous
}

// ColorFor returns the opaque category color for v.
func ColorFor(v float64) color.NRGBA {
	return palette[CategoryFor(v)]
}

// Color returns the opaque color of the category.
func (c Category) Color() color.NRGBA {
	if c < Good || c > Hazardous {
		return palette[Good]
	}
	return palette[c]
}

// WithAlpha returns c with its alpha channel replaced.
func WithAlpha(c color.NRGBA, a uint8) color.NRGBA {
	c.A = a
	return c
}
