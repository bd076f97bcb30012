package cache

import (
	"context"
	"errors"
	"time"

	"github.com/folio/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DB is a Store kept in the cache_entries table, so every process that shares
// the database also shares counters and cached reads.
type DB struct {
	db  *gorm.DB
	now Clock
}

// NewDB creates a database-backed store. now may be nil.
func NewDB(gdb *gorm.DB, now Clock) *DB {
	if now == nil {
		now = time.Now
	}
	return &DB{db: gdb, now: now}
}

// Get returns the value for key if it has not expired.
func (s *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry db.CacheEntry
	err := s.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, s.utcNow()).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value, true, nil
}

// Set upserts value under key until ttl elapses. A non-positive ttl removes the key.
func (s *DB) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	entry := db.CacheEntry{Key: key, Value: value, ExpiresAt: s.utcNow().Add(ttl)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&entry).Error
}

// Delete removes keys; unknown keys are ignored.
func (s *DB) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("cache_key IN ?", keys).Delete(&db.CacheEntry{}).Error
}

// Purge deletes expired rows and returns how many were removed.
func (s *DB) Purge(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.utcNow()).Delete(&db.CacheEntry{})
	return result.RowsAffected, result.Error
}

// Run purges expired rows every interval until ctx is cancelled.
func (s *DB) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Purge(ctx)
		}
	}
}

// timestamps are stored in UTC so the text comparison in sqlite stays ordered.
func (s *DB) utcNow() time.Time {
	return s.now().UTC()
}

// New builds the store named by backend.
func New(backend string, gdb *gorm.DB) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendDatabase:
		if gdb == nil {
			return nil, errors.New("database cache backend requires a database handle")
		}
		return NewDB(gdb, nil), nil
	default:
		return nil, ErrUnknownBackend
	}
}
