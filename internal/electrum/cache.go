package electrum

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/revittco/electrumlink/internal/jsonrpc"
)

// cacheable lists methods whose results never change for the same params.
var cacheable = map[string]bool{
	MethodTransactionGet: true,
	MethodBlockHeader:    true,
}

const (
	DefaultCacheTTL      = 10 * time.Minute
	DefaultCacheCapacity = 1024
)

// Cache is a Caller that serves immutable results from memory. Every other
// method, and every error reply, passes straight through. Concurrent misses
// for the same key share one wire call.
type Cache struct {
	next   Caller
	items  *ttlcache.Cache[string, json.RawMessage]
	flight singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache wraps next. Zero capacity or ttl take the defaults.
func NewCache(next Caller, capacity uint64, ttl time.Duration) *Cache {
	if capacity == 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		next: next,
		items: ttlcache.New[string, json.RawMessage](
			ttlcache.WithTTL[string, json.RawMessage](ttl),
			ttlcache.WithCapacity[string, json.RawMessage](capacity),
		),
	}
}

// Start runs expiry cleanup until Stop. It blocks.
func (c *Cache) Start() { c.items.Start() }

// Stop ends cleanup started with Start.
func (c *Cache) Stop() { c.items.Stop() }

// Send implements Caller.
func (c *Cache) Send(ctx context.Context, method string, params ...any) (*jsonrpc.Response, error) {
	if !cacheable[method] {
		return c.next.Send(ctx, method, params...)
	}
	key, err := cacheKey(method, params)
	if err != nil {
		return c.next.Send(ctx, method, params...)
	}
	if item := c.items.Get(key); item != nil {
		c.hits.Add(1)
		return &jsonrpc.Response{Result: item.Value()}, nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		resp, err := c.next.Send(ctx, method, params...)
		if err != nil {
			return nil, err
		}
		if resp.Error == nil {
			c.items.Set(key, resp.Result, ttlcache.DefaultTTL)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jsonrpc.Response), nil
}

// CacheStats holds cache performance counters.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

// Stats reports the counters since creation.
func (c *Cache) Stats() CacheStats {
	st := CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.items.Len(),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

func cacheKey(method string, params []any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.Write(data)
	return b.String(), nil
}
