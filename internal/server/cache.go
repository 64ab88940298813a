package server

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Cache stores rendered responses by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Close()
}

// DefaultMemoryCacheEntries bounds the in-process cache.
const DefaultMemoryCacheEntries = 256

type memoryEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// MemoryCache is a bounded in-process LRU cache.
type MemoryCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries values.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryCacheEntries
	}
	return &MemoryCache{
		max:     maxEntries,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memoryEntry)
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.remove(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return e.value, true, nil
}

// Set stores value. A zero ttl never expires.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value = value
		e.expires = expires
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, value: value, expires: expires})
	for c.order.Len() > c.max {
		c.remove(c.order.Back())
	}
	return nil
}

// DeletePrefix removes matching keys.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.remove(el)
		}
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*memoryEntry).key)
}

// Close is a no-op.
func (c *MemoryCache) Close() {}

// ValkeyCache stores entries in Valkey (Redis compatible) so several
// instances share rendered maps.
type ValkeyCache struct {
	client valkey.Client
	prefix string
}

// NewValkeyCache connects to addr. Keys are namespaced with prefix.
func NewValkeyCache(addr, prefix string) (*ValkeyCache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return &ValkeyCache{client: client, prefix: prefix}, nil
}

// Get retrieves a value by key.
func (c *ValkeyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build())
	b, err := cmd.AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("valkey get: %w", err)
	}
	return b, true, nil
}

// Set stores a value with a TTL.
func (c *ValkeyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = c.client.B().Set().Key(c.prefix + key).Value(valkey.BinaryString(value)).Ex(ttl).Build()
	} else {
		cmd = c.client.B().Set().Key(c.prefix + key).Value(valkey.BinaryString(value)).Build()
	}
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// DeletePrefix scans for matching keys and deletes them.
func (c *ValkeyCache) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		entry, err := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(c.prefix+prefix+"*").Count(100).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("valkey scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			if err := c.client.Do(ctx, c.client.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				return fmt.Errorf("valkey del: %w", err)
			}
		}
		if entry.Cursor == 0 {
			return nil
		}
		cursor = entry.Cursor
	}
}

// Close releases the client.
func (c *ValkeyCache) Close() {
	c.client.Close()
}
