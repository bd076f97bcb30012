package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/folio/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cache-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&db.CacheEntry{}))
	return gdb
}

func storeContract(t *testing.T, store Store, clock *fakeClock) {
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "greeting", []byte("merhaba"), time.Minute))
	got, ok, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "merhaba", string(got))

	require.NoError(t, store.Set(ctx, "greeting", []byte("selam"), 2*time.Minute))
	got, ok, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "selam", string(got), "set overwrites value")

	clock.Advance(90 * time.Second)
	_, ok, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, ok, "overwrite refreshes expiry")

	clock.Advance(time.Minute)
	_, ok, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.False(t, ok, "entry expired")

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, store.Delete(ctx, "a", "b", "never-set"))
	_, ok, _ = store.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "b")
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "zero", []byte("x"), 0))
	_, ok, _ = store.Get(ctx, "zero")
	assert.False(t, ok, "non-positive ttl stores nothing")
}

func TestMemoryStore(t *testing.T) {
	clock := newFakeClock()
	storeContract(t, NewMemory(WithClock(clock.Now)), clock)
}

func TestDatabaseStore(t *testing.T) {
	clock := newFakeClock()
	storeContract(t, NewDB(setupCacheTestDB(t), clock.Now), clock)
}

func TestMemorySweepDropsExpired(t *testing.T) {
	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", []byte("abc"), time.Minute))

	got, _, _ := m.Get(ctx, "k")
	got[0] = 'z'

	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestDatabasePurge(t *testing.T) {
	clock := newFakeClock()
	store := NewDB(setupCacheTestDB(t), clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "new", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New("", nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(BackendDatabase, setupCacheTestDB(t))
	require.NoError(t, err)
	assert.IsType(t, &DB{}, s)

	_, err = New(BackendDatabase, nil)
	assert.Error(t, err)

	_, err = New("redis", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

type postView struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

func TestRememberLoadsOnceUntilPurged(t *testing.T) {
	clock := newFakeClock()
	inv := NewInvalidator(NewMemory(WithClock(clock.Now)), time.Minute, nil)
	ctx := context.Background()

	loads := 0
	load := func(context.Context) (postView, error) {
		loads++
		return postView{Slug: "hello-world", Title: fmt.Sprintf("v%d", loads)}, nil
	}

	first, err := Remember(ctx, inv, PostKey("hello-world"), load)
	require.NoError(t, err)
	second, err := Remember(ctx, inv, PostKey("hello-world"), load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
	assert.Equal(t, first, second)

	inv.PostsChanged(ctx, "hello-world")
	third, err := Remember(ctx, inv, PostKey("hello-world"), load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
	assert.Equal(t, "v2", third.Title)

	clock.Advance(2 * time.Minute)
	_, err = Remember(ctx, inv, PostKey("hello-world"), load)
	require.NoError(t, err)
	assert.Equal(t, 3, loads, "ttl lapse forces a reload")
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	inv := NewInvalidator(NewMemory(), time.Minute, nil)
	ctx := context.Background()
	boom := errors.New("store down")

	_, err := Remember(ctx, inv, KeyPosts, func(context.Context) ([]postView, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, _ := inv.Store().Get(ctx, KeyPosts)
	assert.False(t, ok)
}

func TestPostsChangedPurgesCollectionsAndSlugs(t *testing.T) {
	store := NewMemory()
	inv := NewInvalidator(store, time.Minute, nil)
	ctx := context.Background()

	for _, key := range []string{KeyPosts, KeyPublishedPosts, KeyHome, PostKey("old"), PostKey("new"), PostKey("other")} {
		require.NoError(t, store.Set(ctx, key, []byte("{}"), time.Minute))
	}

	inv.PostsChanged(ctx, "old", "new", "")

	for _, key := range []string{KeyPosts, KeyPublishedPosts, KeyHome, PostKey("old"), PostKey("new")} {
		_, ok, _ := store.Get(ctx, key)
		assert.False(t, ok, "key %s should be purged", key)
	}
	_, ok, _ := store.Get(ctx, PostKey("other"))
	assert.True(t, ok, "unrelated post stays cached")
}

func TestSettingsChangedPurgesOnlySettings(t *testing.T) {
	store := NewMemory()
	inv := NewInvalidator(store, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeySettings, []byte("{}"), time.Minute))
	require.NoError(t, store.Set(ctx, KeyHome, []byte("{}"), time.Minute))

	inv.SettingsChanged(ctx)

	_, ok, _ := store.Get(ctx, KeySettings)
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, KeyHome)
	assert.True(t, ok)
}

func TestHomeChangedPurgesOnlyHome(t *testing.T) {
	store := NewMemory()
	inv := NewInvalidator(store, 0, nil)
	ctx := context.Background()
	assert.Equal(t, DefaultTTL, inv.TTL())

	require.NoError(t, store.Set(ctx, KeyHome, []byte("{}"), time.Minute))
	require.NoError(t, store.Set(ctx, KeyPosts, []byte("[]"), time.Minute))

	inv.HomeChanged(ctx)

	_, ok, _ := store.Get(ctx, KeyHome)
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, KeyPosts)
	assert.True(t, ok)
}
