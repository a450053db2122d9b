// Package cache stores discovered model lists so that repeated settings-page
// loads do not hit the model server every time. Redis backs multi-instance
// deployments; a TTL map serves single instances.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultTTL is how long a model list stays fresh.
const DefaultTTL = time.Minute

// ModelList is the set of models served at one base URL.
type ModelList struct {
	BaseURL   string    `json:"base_url"`
	Models    []string  `json:"models"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache stores model lists keyed by base URL.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns nil, nil when nothing fresh is cached for baseURL.
	Get(ctx context.Context, baseURL string) (*ModelList, error)
	Set(ctx context.Context, list *ModelList) error
	Close() error
}

// keyFor derives a fixed-length key from a base URL.
func keyFor(prefix, baseURL string) string {
	return prefix + ":" + strconv.FormatUint(xxhash.Sum64String(baseURL), 16)
}
