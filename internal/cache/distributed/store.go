// Package distributed holds the key/value tiers that sit behind the local
// buffers: Redis, and the in-process stores shared between workers.
package distributed

import (
	"context"
	"io"
	"time"

	"go.uber.org/atomic"
)

// Store is a byte-valued cache with per-entry expiry.
// Get reports a miss with found == false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Close releases s if it holds resources.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Counting wraps a Store and counts calls. Tiered caches expose it so the
// number of remote reads and writes can be checked.
type Counting struct {
	Store
	gets *atomic.Int64
	hits *atomic.Int64
	sets *atomic.Int64
}

// NewCounting wraps s.
func NewCounting(s Store) *Counting {
	return &Counting{
		Store: s,
		gets:  atomic.NewInt64(0),
		hits:  atomic.NewInt64(0),
		sets:  atomic.NewInt64(0),
	}
}

func (c *Counting) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets.Inc()
	data, found, err := c.Store.Get(ctx, key)
	if found {
		c.hits.Inc()
	}
	return data, found, err
}

func (c *Counting) SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	c.sets.Inc()
	return c.Store.SetWithTTL(ctx, key, data, ttl)
}

func (c *Counting) Close() error {
	return Close(c.Store)
}

func (c *Counting) Gets() int64 { return c.gets.Load() }
func (c *Counting) Hits() int64 { return c.hits.Load() }
func (c *Counting) Sets() int64 { return c.sets.Load() }
