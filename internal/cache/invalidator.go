package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Named keys for cached read paths.
const (
	KeyPosts          = "posts:all"
	KeyPublishedPosts = "posts:published"
	KeyHome           = "home"
	KeySettings       = "settings"

	postKeyPrefix = "posts:slug:"
)

// DefaultTTL applies when an Invalidator is built with a non-positive ttl.
const DefaultTTL = time.Minute

// PostKey names the cache entry of a single post.
func PostKey(slug string) string {
	return postKeyPrefix + slug
}

// Invalidator owns the key conventions: read paths fill entries through
// Remember, mutations purge the keys they could have staled.
type Invalidator struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewInvalidator creates an Invalidator over store.
func NewInvalidator(store Store, ttl time.Duration, logger *slog.Logger) *Invalidator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{store: store, ttl: ttl, logger: logger}
}

// Store exposes the underlying store.
func (i *Invalidator) Store() Store {
	return i.store
}

// TTL reports how long read-through entries live.
func (i *Invalidator) TTL() time.Duration {
	return i.ttl
}

// PostsChanged purges the post collections, the home document (it embeds
// recent posts) and every slug given. A rename passes both the old and new slug.
func (i *Invalidator) PostsChanged(ctx context.Context, slugs ...string) {
	keys := []string{KeyPosts, KeyPublishedPosts, KeyHome}
	for _, slug := range slugs {
		if slug != "" {
			keys = append(keys, PostKey(slug))
		}
	}
	i.purge(ctx, keys)
}

// HomeChanged purges the home document.
func (i *Invalidator) HomeChanged(ctx context.Context) {
	i.purge(ctx, []string{KeyHome})
}

// SettingsChanged purges the site settings.
func (i *Invalidator) SettingsChanged(ctx context.Context) {
	i.purge(ctx, []string{KeySettings})
}

func (i *Invalidator) purge(ctx context.Context, keys []string) {
	if err := i.store.Delete(ctx, keys...); err != nil {
		i.logger.Warn("cache purge failed", "keys", keys, "error", err)
	}
}

// Remember returns the cached value for key, or calls load, caches its result
// for the invalidator's TTL and returns it. Cache failures fall back to load.
func Remember[T any](ctx context.Context, inv *Invalidator, key string, load func(context.Context) (T, error)) (T, error) {
	if raw, ok, err := inv.store.Get(ctx, key); err != nil {
		inv.logger.Warn("cache read failed", "key", key, "error", err)
	} else if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		inv.logger.Warn("cache entry undecodable", "key", key)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		inv.logger.Warn("cache encode failed", "key", key, "error", err)
		return value, nil
	}
	if err := inv.store.Set(ctx, key, raw, inv.ttl); err != nil {
		inv.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return value, nil
}
