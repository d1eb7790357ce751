// Package tiered composes the in-memory tile cache with an optional shared tier.
package tiered

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/keys"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/cache/tilecache"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

const DefaultOpTimeout = 150 * time.Millisecond

// Shared is the remote tier, implemented by redisstore.Client.
type Shared interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	DelPattern(ctx context.Context, pattern string) (int64, error)
}

type Cache struct {
	l1        *tilecache.Cache
	l2        Shared
	ttl       time.Duration
	opTimeout time.Duration
	pollutant string
	style     keys.Style
	logger    *slog.Logger

	// writers hold mu.RLock across the write; invalidations bump gen under mu.Lock
	mu  sync.RWMutex
	gen uint64
}

var (
	_ cache.Interface    = (*Cache)(nil)
	_ cache.Generational = (*Cache)(nil)
)

type Option func(*Cache)

// WithShared enables the shared tier; ttl <= 0 stores without expiry.
func WithShared(s Shared, ttl time.Duration) Option {
	return func(c *Cache) {
		c.l2 = s
		c.ttl = ttl
	}
}

func WithOpTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

func WithStyle(s keys.Style) Option {
	return func(c *Cache) { c.style = s }
}

func WithPollutant(p string) Option {
	return func(c *Cache) { c.pollutant = p }
}

func New(l1 *tilecache.Cache, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		l1:        l1,
		opTimeout: DefaultOpTimeout,
		pollutant: "aqi",
		logger:    logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) L1() *tilecache.Cache { return c.l1 }

func (c *Cache) Get(ctx context.Context, a model.TileAddress) ([]byte, bool) {
	if b, ok := c.l1.Get(a); ok {
		return b, true
	}
	if c.l2 == nil {
		return nil, false
	}

	gen := c.Generation()
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	b, ok, err := c.l2.Get(ctx, c.key(a))
	if err != nil {
		c.logger.Debug("shared tile tier get failed", "tile", a.String(), "pollutant", c.pollutant, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	// a value read before an invalidation is served once but not promoted
	c.mu.RLock()
	if gen == c.gen {
		c.l1.Put(a, b)
	}
	c.mu.RUnlock()
	return b, true
}

func (c *Cache) Put(ctx context.Context, a model.TileAddress, png []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.put(ctx, a, png)
}

func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// PutAt writes through both tiers unless the layer was invalidated after gen
// was read.
func (c *Cache) PutAt(ctx context.Context, a model.TileAddress, png []byte, gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if gen != c.gen {
		return false
	}
	c.put(ctx, a, png)
	return true
}

func (c *Cache) put(ctx context.Context, a model.TileAddress, png []byte) {
	c.l1.Put(a, png)
	if c.l2 == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.l2.Set(ctx, c.key(a), png, c.ttl); err != nil {
		c.logger.Debug("shared tile tier set failed", "tile", a.String(), "pollutant", c.pollutant, "err", err)
	}
}

// bump waits for in-progress writes, so anything they stored is visible to
// the removal that follows.
func (c *Cache) bump() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// Remove drops addrs from both tiers. The result is the larger of the two
// per-tier counts: a lower bound on the distinct tiles dropped, since a tile
// may have lived in only one tier.
func (c *Cache) Remove(ctx context.Context, addrs ...model.TileAddress) int {
	if len(addrs) == 0 {
		return 0
	}
	c.bump()
	n := c.l1.Remove(addrs...)
	if c.l2 == nil {
		return n
	}
	ks := make([]string, len(addrs))
	for i, a := range addrs {
		ks[i] = c.key(a)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	m, err := c.l2.Del(ctx, ks...)
	if err != nil {
		c.logger.Warn("shared tile tier delete failed", "pollutant", c.pollutant, "keys", len(ks), "err", err)
		return n
	}
	return max(n, int(m))
}

// Purge drops every tile of this pollutant from both tiers.
func (c *Cache) Purge(ctx context.Context) error {
	c.bump()
	c.l1.Purge()
	if c.l2 == nil {
		return nil
	}
	_, err := c.l2.DelPattern(ctx, keys.Pattern(c.pollutant))
	return err
}

func (c *Cache) key(a model.TileAddress) string {
	return keys.Key(c.pollutant, a, c.style)
}
