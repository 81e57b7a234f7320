package grpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/shhac/reflex/internal/domain"
	"golang.org/x/sync/singleflight"
)

const shardCount = 32

// shardedMap is a string-keyed map split across lock-striped shards so
// lookups for unrelated keys do not contend.
type shardedMap[V any] struct {
	shards [shardCount]struct {
		mu    sync.RWMutex
		items map[string]V
	}
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *shardedMap[V]) shard(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

func (m *shardedMap[V]) get(key string) (V, bool) {
	s := &m.shards[m.shard(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// putIfAbsent stores v unless key is already present, and returns the
// value that ends up in the map.
func (m *shardedMap[V]) putIfAbsent(key string, v V) (V, bool) {
	s := &m.shards[m.shard(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok {
		return existing, false
	}
	s.items[key] = v
	return v, true
}

func (m *shardedMap[V]) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// drain empties the map and returns what it held.
func (m *shardedMap[V]) drain() []V {
	var out []V
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.items {
			out = append(out, v)
			delete(s.items, k)
		}
		s.mu.Unlock()
	}
	return out
}

// CacheStats is a snapshot of a ResourceCache.
type CacheStats struct {
	Connections int   `json:"connections"`
	Pools       int   `json:"pools"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
}

// ResourceCache shares connections per endpoint and descriptor pools per
// (endpoint, input, output). Concurrent misses on one key run the creation
// once. Failures are returned to every waiter and never stored.
type ResourceCache struct {
	dial   Dialer
	logger *slog.Logger

	conns *shardedMap[*Connection]
	pools *shardedMap[*Pool]
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResourceCache creates an empty cache that opens connections with dial.
func NewResourceCache(dial Dialer, logger *slog.Logger) *ResourceCache {
	return &ResourceCache{
		dial:   dial,
		logger: logger,
		conns:  newShardedMap[*Connection](),
		pools:  newShardedMap[*Pool](),
	}
}

// GetOrCreateConnection returns the connection for ep, dialing it on the
// first request.
func (c *ResourceCache) GetOrCreateConnection(ctx context.Context, ep domain.Endpoint, cfg domain.TransportConfig) (*Connection, error) {
	key := ep.String()
	if conn, ok := c.conns.get(key); ok {
		c.hits.Add(1)
		return conn, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do("conn|"+key, func() (any, error) {
		if conn, ok := c.conns.get(key); ok {
			return conn, nil
		}
		dctx, cancel := detach(ctx)
		defer cancel()
		conn, err := c.dial(dctx, ep, cfg)
		if err != nil {
			return nil, err
		}
		stored, _ := c.conns.putIfAbsent(key, conn)
		c.logger.Debug("cached connection", slog.String("address", key))
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// GetOrCreatePool returns the descriptor pool for input and output on
// conn's endpoint, assembling it from src on the first request.
func (c *ResourceCache) GetOrCreatePool(ctx context.Context, conn *Connection, src SchemaSource, input, output string) (*Pool, error) {
	key := conn.Endpoint().String() + "|" + input + "|" + output
	if pool, ok := c.pools.get(key); ok {
		c.hits.Add(1)
		return pool, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do("pool|"+key, func() (any, error) {
		if pool, ok := c.pools.get(key); ok {
			return pool, nil
		}
		dctx, cancel := detach(ctx)
		defer cancel()
		pool, err := AssemblePool(dctx, src, input, output)
		if err != nil {
			return nil, err
		}
		stored, _ := c.pools.putIfAbsent(key, pool)
		c.logger.Debug("cached descriptor pool",
			slog.String("address", conn.Endpoint().String()),
			slog.String("input", input),
			slog.String("output", output),
		)
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pool), nil
}

// Stats reports entry counts and lookup outcomes.
func (c *ResourceCache) Stats() CacheStats {
	return CacheStats{
		Connections: c.conns.len(),
		Pools:       c.pools.len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
	}
}

// Close closes every cached connection and empties the cache.
func (c *ResourceCache) Close() error {
	c.pools.drain()
	var errs []error
	for _, conn := range c.conns.drain() {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// detach keeps the work shared by singleflight waiters alive when the
// caller that started it goes away, while still honouring its deadline.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return base, func() {}
}
