// Package cache provides the read-through, stale-while-revalidate cache
// backing entitlement decisions. Values younger than the soft TTL are
// served directly; between the soft and hard TTL a stale value is served
// while exactly one background refresh runs; nothing older than the hard
// TTL is ever served.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/meterwise/meterwise/pkg/background"
	"go.uber.org/zap"
)

type Loader[V any] func(ctx context.Context, key string) (V, error)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

type flight[V any] struct {
	done  chan struct{}
	value V
	err   error
	// dropped is set under the cache mutex when the key is evicted while
	// this load is still running; the result must not be re-stored.
	dropped bool
}

type Cache[V any] struct {
	loader Loader[V]
	soft   time.Duration
	hard   time.Duration
	runner *background.Runner
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry[V]
	inflight map[string]*flight[V]
}

func New[V any](loader Loader[V], soft, hard time.Duration, runner *background.Runner, log *zap.Logger) *Cache[V] {
	if hard < soft {
		hard = soft
	}
	return &Cache[V]{
		loader:   loader,
		soft:     soft,
		hard:     hard,
		runner:   runner,
		log:      log.Named("cache"),
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]*entry[V]),
		inflight: make(map[string]*flight[V]),
	}
}

// Get returns the cached value for key, loading it when missing or
// hard-expired. Concurrent misses for the same key collapse into a
// single loader call.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, error) {
	c.mu.Lock()
	now := c.now()

	if e, ok := c.entries[key]; ok {
		age := now.Sub(e.fetchedAt)
		switch {
		case age <= c.soft:
			value := e.value
			c.mu.Unlock()
			return value, nil
		case age <= c.hard:
			value := e.value
			c.scheduleRefreshLocked(key)
			c.mu.Unlock()
			return value, nil
		}
		// Past hard expiry: fall through to a synchronous load.
		delete(c.entries, key)
	}

	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.value, f.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	f := &flight[V]{done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	f.value, f.err = c.loader(ctx, key)

	c.mu.Lock()
	delete(c.inflight, key)
	if f.err == nil && !f.dropped {
		c.entries[key] = &entry[V]{value: f.value, fetchedAt: c.now()}
	}
	c.mu.Unlock()
	close(f.done)

	return f.value, f.err
}

// scheduleRefreshLocked starts at most one background refresh per key.
// The current caller is never delayed by it.
func (c *Cache[V]) scheduleRefreshLocked(key string) {
	if _, ok := c.inflight[key]; ok {
		return
	}
	f := &flight[V]{done: make(chan struct{})}
	c.inflight[key] = f

	scheduled := c.runner.Go("cache.refresh", func(ctx context.Context) {
		f.value, f.err = c.loader(ctx, key)

		c.mu.Lock()
		delete(c.inflight, key)
		if f.err == nil && !f.dropped {
			c.entries[key] = &entry[V]{value: f.value, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		close(f.done)

		if f.err != nil {
			c.log.Warn("background refresh failed", zap.String("key", key), zap.Error(f.err))
		}
	})
	if !scheduled {
		delete(c.inflight, key)
		close(f.done)
	}
}

// Remove evicts unconditionally. Used whenever an authoritative write
// invalidates the key. A refresh already in flight for the key is marked
// dropped so its result cannot resurrect the evicted value.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	if f, ok := c.inflight[key]; ok {
		f.dropped = true
	}
	c.mu.Unlock()
}

// RemovePrefix evicts every key with the given prefix, e.g. all features
// of one customer.
func (c *Cache[V]) RemovePrefix(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	for key, f := range c.inflight {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			f.dropped = true
		}
	}
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
