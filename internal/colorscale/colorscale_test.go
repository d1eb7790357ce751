package colorscale

import (
	"math"
	"testing"
)

func TestCategoryFor_Breakpoints(t *testing.T) {
	cases := []struct {
		v    float64
		want Category
	}{
		{-25, Good},
		{0, Good},
		{10, Good},
		{50, Good},
		{50.0001, Moderate},
		{100, Moderate},
		{101, UnhealthySensitive},
		{150, UnhealthySensitive},
		{175, Unhealthy},
		{200, Unhealthy},
		{250, VeryUnhealthy},
		{300, VeryUnhealthy},
		{300.5, Hazardous},
		{400, Hazardous},
		{math.Inf(1), Hazardous},
		{math.Inf(-1), Good},
		{math.NaN(), Good},
	}
	for _, c := range cases {
		if got := CategoryFor(c.v); got != c.want {
			t.Fatalf("CategoryFor(%v)=%s want %s", c.v, got, c.want)
		}
	}
}

func TestCategoryFor_Monotonic(t *testing.T) {
	prev := CategoryFor(-1000)
	for v := -1000.0; v <= 1000; v += 0.5 {
		c := CategoryFor(v)
		if c < prev {
			t.Fatalf("category decreased at %v: %s after %s", v, c, prev)
		}
		prev = c
	}
}

func TestColorFor_Extremes(t *testing.T) {
	if got := ColorFor(10); got != Good.Color() {
		t.Fatalf("ColorFor(10)=%v want good %v", got, Good.Color())
	}
	if got := ColorFor(400); got != Hazardous.Color() {
		t.Fatalf("ColorFor(400)=%v want hazardous %v", got, Hazardous.Color())
	}
	for c := Good; c <= Hazardous; c++ {
		if c.Color().A != 0xFF {
			t.Fatalf("%s color not opaque: %v", c, c.Color())
		}
	}
}

func TestWithAlpha(t *testing.T) {
	c := WithAlpha(ColorFor(60), 178)
	if c.A != 178 || c.R != 0xFF || c.G != 0xFF || c.B != 0 {
		t.Fatalf("unexpected color %v", c)
	}
}
