// Package tilecache is the bounded in-memory tile store.
package tilecache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/observability"
)

const DefaultCapacity = 50

type Entry struct {
	Bytes      []byte
	InsertedAt time.Time
}

// Cache holds at most Cap() tiles, evicting the least recently used.
// Entries never expire on their own.
type Cache struct {
	lru       *lru.Cache[model.TileAddress, Entry]
	capacity  int
	pollutant string
	now       func() time.Time
}

type Option func(*Cache)

// WithPollutant sets the metrics label for this cache.
func WithPollutant(p string) Option {
	return func(c *Cache) { c.pollutant = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(capacity int, opts ...Option) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("tilecache: capacity must be positive, got %d", capacity)
	}
	l, err := lru.New[model.TileAddress, Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("tilecache: %w", err)
	}
	c := &Cache{lru: l, capacity: capacity, pollutant: "aqi", now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Cache) Get(a model.TileAddress) ([]byte, bool) {
	e, ok := c.lru.Get(a)
	if !ok {
		return nil, false
	}
	return e.Bytes, true
}

// Entry returns the stored entry without touching recency.
func (c *Cache) Entry(a model.TileAddress) (Entry, bool) {
	return c.lru.Peek(a)
}

func (c *Cache) Put(a model.TileAddress, png []byte) {
	if evicted := c.lru.Add(a, Entry{Bytes: png, InsertedAt: c.now()}); evicted {
		observability.IncCacheEviction(c.pollutant)
	}
	observability.SetCacheEntries(c.pollutant, c.lru.Len())
}

func (c *Cache) Remove(addrs ...model.TileAddress) int {
	n := 0
	for _, a := range addrs {
		if c.lru.Remove(a) {
			n++
		}
	}
	if n > 0 {
		observability.SetCacheEntries(c.pollutant, c.lru.Len())
	}
	return n
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Cap() int { return c.capacity }

func (c *Cache) Purge() {
	c.lru.Purge()
	observability.SetCacheEntries(c.pollutant, 0)
}
