package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// LocalCache keeps model lists in process memory.
type LocalCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*ModelList
	now     func() time.Time
}

// NewLocalCache creates an in-memory cache. A non-positive ttl means DefaultTTL.
func NewLocalCache(ttl time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocalCache{ttl: ttl, entries: make(map[string]*ModelList), now: time.Now}
}

func (c *LocalCache) Get(_ context.Context, baseURL string) (*ModelList, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list, ok := c.entries[baseURL]
	if !ok || c.now().Sub(list.UpdatedAt) >= c.ttl {
		return nil, nil
	}
	out := *list
	out.Models = slices.Clone(list.Models)
	return &out, nil
}

func (c *LocalCache) Set(_ context.Context, list *ModelList) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := *list
	stored.Models = slices.Clone(list.Models)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = c.now()
	}
	c.entries[list.BaseURL] = &stored

	for k, v := range c.entries {
		if c.now().Sub(v.UpdatedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *LocalCache) Close() error {
	return nil
}
