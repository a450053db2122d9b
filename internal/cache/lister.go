package cache

import (
	"context"
	"log/slog"
	"time"
)

// FetchFunc lists the models served at baseURL.
type FetchFunc func(ctx context.Context, baseURL string) ([]string, error)

// Lister serves model lists from a Cache and fetches on a miss.
// Failed fetches are not cached.
type Lister struct {
	cache Cache
	fetch FetchFunc
}

func NewLister(cache Cache, fetch FetchFunc) *Lister {
	return &Lister{cache: cache, fetch: fetch}
}

func (l *Lister) Models(ctx context.Context, baseURL string) ([]string, error) {
	cached, err := l.cache.Get(ctx, baseURL)
	if err != nil {
		slog.Warn("model list cache read failed", "base_url", baseURL, "error", err)
	}
	if cached != nil {
		return cached.Models, nil
	}

	models, err := l.fetch(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(ctx, &ModelList{BaseURL: baseURL, Models: models, UpdatedAt: time.Now()}); err != nil {
		slog.Warn("model list cache write failed", "base_url", baseURL, "error", err)
	}
	return models, nil
}
