// Package appcache memoizes catalog lookups for the lifetime of the daemon.
// Concurrent lookups of the same id share one resolver call, and "not found"
// answers are remembered so missing entries are never fetched twice.
package appcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"tools.zach/dev/protoncord/internal/store"
)

// ResolveFunc produces the entry for an id. Errors should wrap one of the
// store sentinels; only [store.ErrNotFound] is cached.
type ResolveFunc func(ctx context.Context, id string) (store.Entry, error)

// Stats counts cache activity since construction.
type Stats struct {
	Hits         int64
	NegativeHits int64
	Misses       int64
	Resolves     int64
	Entries      int
}

// Cache is an in-memory, replace-only map from id to [store.Entry].
type Cache struct {
	resolve ResolveFunc
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]store.Entry

	group singleflight.Group

	hits, negativeHits, misses, resolves atomic.Int64
}

// New returns a cache bound to resolve.
func New(resolve ResolveFunc) *Cache {
	return &Cache{
		resolve: resolve,
		now:     time.Now,
		entries: make(map[string]store.Entry),
	}
}

// Resolve returns the entry for id using the bound resolver.
func (c *Cache) Resolve(ctx context.Context, id string) (store.Entry, error) {
	return c.GetOrResolve(ctx, id, c.resolve)
}

// GetOrResolve returns the cached entry for id, or runs fn once for all
// concurrent callers and caches its outcome. A cached negative entry is
// returned as [store.ErrNotFound]. fn runs without the caller's
// cancellation, so it must bound itself; cancelling one caller never fails
// the others.
func (c *Cache) GetOrResolve(ctx context.Context, id string, fn ResolveFunc) (store.Entry, error) {
	if e, ok := c.lookup(id); ok {
		return c.hit(id, e)
	}
	c.misses.Add(1)

	// The flight outlives any single waiter; fn bounds it with its own
	// timeout, and each waiter leaves through its own ctx.
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		// Another flight may have finished between lookup and DoChan.
		if e, ok := c.lookup(id); ok {
			return e, nil
		}
		c.resolves.Add(1)
		e, err := fn(flight, id)
		switch {
		case err == nil:
			e.Identifier = id
			e.Negative = false
			c.store(e)
			slog.Debug("catalog entry cached", "app_id", id, "title", e.Title)
			return e, nil
		case errors.Is(err, store.ErrNotFound):
			neg := store.Entry{Identifier: id, Negative: true, ResolvedAt: c.now()}
			c.store(neg)
			slog.Debug("negative catalog entry cached", "app_id", id, "error", err)
			return neg, nil
		default:
			return store.Entry{}, err
		}
	})

	select {
	case <-ctx.Done():
		return store.Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return store.Entry{}, res.Err
		}
		e := res.Val.(store.Entry)
		if e.Negative {
			return store.Entry{}, notFound(id)
		}
		return e, nil
	}
}

// Peek returns the cached entry for id without resolving.
func (c *Cache) Peek(id string) (store.Entry, bool) {
	return c.lookup(id)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:         c.hits.Load(),
		NegativeHits: c.negativeHits.Load(),
		Misses:       c.misses.Load(),
		Resolves:     c.resolves.Load(),
		Entries:      n,
	}
}

// LogValue renders stats as a slog group.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("hits", s.Hits),
		slog.Int64("negative_hits", s.NegativeHits),
		slog.Int64("misses", s.Misses),
		slog.Int64("resolves", s.Resolves),
		slog.Int("entries", s.Entries),
	)
}

func (c *Cache) lookup(id string) (store.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

func (c *Cache) store(e store.Entry) {
	c.mu.Lock()
	c.entries[e.Identifier] = e
	c.mu.Unlock()
}

func (c *Cache) hit(id string, e store.Entry) (store.Entry, error) {
	if e.Negative {
		c.negativeHits.Add(1)
		return store.Entry{}, notFound(id)
	}
	c.hits.Add(1)
	return e, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: app %s (cached)", store.ErrNotFound, id)
}
