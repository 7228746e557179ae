// Package query caches backend reads under structured keys and applies the
// invalidation rules that keep lists and details honest after writes.
package query

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrStale marks a response that arrived for inputs that are no longer current.
var ErrStale = errors.New("stale response discarded")

// Key identifies a cached query: resource, tenant, kind, then kind specific parts.
type Key []string

func (k Key) String() string {
	return strings.Join(k, "/")
}

// HasPrefix reports whether k starts with every segment of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func ResourceKey(resource, tenant string) Key {
	return Key{resource, tenant}
}

func ListPrefix(resource, tenant string) Key {
	return Key{resource, tenant, "list"}
}

// ListKey encodes the filters in sorted order so equal filters share a key.
func ListKey(resource, tenant string, params url.Values) Key {
	return Key{resource, tenant, "list", params.Encode()}
}

// SearchKey sits under the list prefix so writes that invalidate lists also
// invalidate quick searches.
func SearchKey(resource, tenant string, params url.Values) Key {
	return Key{resource, tenant, "list", "search", params.Encode()}
}

func DetailKey(resource, tenant, id string) Key {
	return Key{resource, tenant, "detail", id}
}

type Config struct {
	// StaleTime is how long a result is served without refetching.
	StaleTime time.Duration
	// GCTime bounds how long an unused result is kept at all.
	GCTime time.Duration
	Size   int
}

func DefaultConfig() Config {
	return Config{StaleTime: 30 * time.Second, GCTime: 5 * time.Minute, Size: 256}
}

type entry struct {
	key       Key
	value     any
	fetchedAt time.Time
	stale     bool
}

type Cache struct {
	mu         sync.Mutex
	entries    *expirable.LRU[string, *entry]
	staleTime  time.Duration
	generation uint64
	group      singleflight.Group
	now        func() time.Time
}

func NewCache(cfg Config) *Cache {
	defaults := DefaultConfig()
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = defaults.StaleTime
	}
	if cfg.GCTime <= 0 {
		cfg.GCTime = defaults.GCTime
	}
	if cfg.Size <= 0 {
		cfg.Size = defaults.Size
	}
	return &Cache{
		entries:   expirable.NewLRU[string, *entry](cfg.Size, nil, cfg.GCTime),
		staleTime: cfg.StaleTime,
		now:       time.Now,
	}
}

// Fetch returns a fresh cached value or runs fn. Concurrent fetches of one key
// share a call, but a fetch that started before an invalidation is never
// joined by, nor stored for, reads issued after it.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	k := key.String()

	c.mu.Lock()
	if e, ok := c.entries.Get(k); ok && !e.stale && c.now().Sub(e.fetchedAt) < c.staleTime {
		c.mu.Unlock()
		if v, ok := e.value.(T); ok {
			return v, nil
		}
		return zero, fmt.Errorf("cached value for %s has type %T", k, e.value)
	}
	generation := c.generation
	c.mu.Unlock()

	ch := c.group.DoChan(k+"#"+strconv.FormatUint(generation, 10), func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return zero, res.Err
	}

	c.mu.Lock()
	if c.generation == generation {
		c.entries.Add(k, &entry{key: key, value: res.Val, fetchedAt: c.now()})
	}
	c.mu.Unlock()

	v, _ := res.Val.(T)
	return v, nil
}

// Set stores a value directly, as after a mutation that returned the record.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key.String(), &entry{key: key, value: value, fetchedAt: c.now()})
}

// Invalidate marks every entry under prefix stale so the next read refetches.
func (c *Cache) Invalidate(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && e.key.HasPrefix(prefix) {
			e.stale = true
		}
	}
}

// Remove drops every entry under prefix.
func (c *Cache) Remove(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && e.key.HasPrefix(prefix) {
			c.entries.Remove(k)
		}
	}
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.Purge()
}

// Peek reports whether a key is cached and whether it is stale.
func (c *Cache) Peek(key Key) (value any, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key.String())
	if !ok {
		return nil, false, false
	}
	return e.value, e.stale || c.now().Sub(e.fetchedAt) >= c.staleTime, true
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
