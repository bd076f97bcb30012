// Package cache provides the expiring key/value store shared by the read paths
// and the contact gate, plus the invalidation conventions for post mutations.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendDatabase = "database"
)

// Store is a small expiring key/value store. A missing or expired key reports ok == false.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Clock returns the current time; stores and the gate share one in tests.
type Clock func() time.Time
