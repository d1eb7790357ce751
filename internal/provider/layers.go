package provider

import (
	"fmt"
	"sort"
)

// Layers indexes providers by pollutant.
type Layers struct {
	def string
	m   map[string]*Provider
}

// NewLayers builds the index; the first provider is the default layer.
func NewLayers(ps ...*Provider) (*Layers, error) {
	if len(ps) == 0 {
		return nil, fmt.Errorf("provider: at least one layer is required")
	}
	l := &Layers{def: ps[0].Pollutant(), m: make(map[string]*Provider, len(ps))}
	for _, p := range ps {
		if _, dup := l.m[p.Pollutant()]; dup {
			return nil, fmt.Errorf("provider: duplicate layer %q", p.Pollutant())
		}
		l.m[p.Pollutant()] = p
	}
	return l, nil
}

func (l *Layers) Default() *Provider { return l.m[l.def] }

func (l *Layers) Get(pollutant string) (*Provider, bool) {
	p, ok := l.m[pollutant]
	return p, ok
}

func (l *Layers) Names() []string {
	out := make([]string, 0, len(l.m))
	for k := range l.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
