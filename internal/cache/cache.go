// Package cache defines the tile cache contract the provider renders through.
package cache

import (
	"context"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

// Interface is a keyed store of encoded tiles. Implementations are safe for
// concurrent use and never fail the caller: a broken tier behaves as a miss.
type Interface interface {
	Get(ctx context.Context, a model.TileAddress) ([]byte, bool)
	Put(ctx context.Context, a model.TileAddress, png []byte)
	// Remove drops the given addresses and reports how many were present.
	Remove(ctx context.Context, addrs ...model.TileAddress) int
}

// Generational caches count invalidations so a value rendered before one can
// be refused. PutAt stores png only if no Remove or Purge happened since gen
// was read and reports whether it did.
type Generational interface {
	Generation() uint64
	PutAt(ctx context.Context, a model.TileAddress, png []byte, gen uint64) bool
}
