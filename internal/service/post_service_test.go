package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/folio/internal/cache"
	"github.com/folio/internal/db"
	"github.com/folio/internal/mirror"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:service-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), testDBSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return gdb
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type postFixture struct {
	db      *gorm.DB
	svc     *PostService
	mirrors *mirror.Store
	store   *cache.Memory
}

func setupPostService(t *testing.T) postFixture {
	t.Helper()
	gdb := setupServiceTestDB(t)
	root := t.TempDir()
	mirrors := mirror.NewStore(mirror.Config{
		ContentDir: filepath.Join(root, "posts"),
		JSONDir:    filepath.Join(root, "posts-json"),
	}, mirror.WithLogger(quietLogger()))
	store := cache.NewMemory()
	inv := cache.NewInvalidator(store, time.Minute, quietLogger())
	return postFixture{
		db:      gdb,
		svc:     NewPostService(gdb, mirrors, inv, quietLogger()),
		mirrors: mirrors,
		store:   store,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestPostService_CreateDerivesUniqueSlugs(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	want := []string{"hello-world", "hello-world-2", "hello-world-3"}
	for i, expected := range want {
		post, err := f.svc.Create(ctx, PostInput{Title: "Hello World", Date: "2025-08-25"})
		if err != nil {
			t.Fatalf("create post %d: %v", i, err)
		}
		if post.Slug != expected {
			t.Fatalf("expected slug %q, got %q", expected, post.Slug)
		}
		if !post.Published {
			t.Fatalf("expected posts to default to published")
		}
	}
}

func TestPostService_CreateRequiresTitleAndDate(t *testing.T) {
	f := setupPostService(t)

	inputs := []PostInput{
		{Title: "  ", Date: "2025-08-25"},
		{Title: "Title", Date: ""},
	}
	for _, input := range inputs {
		if _, err := f.svc.Create(context.Background(), input); !errors.Is(err, ErrInvalidPost) {
			t.Fatalf("expected ErrInvalidPost for %+v, got %v", input, err)
		}
	}
}

func TestPostService_CreateRejectsMalformedDate(t *testing.T) {
	f := setupPostService(t)

	for _, date := range []string{"Aug 25: launch", "2025-13-01", "25-08-2025", "2025-08-25T10:00:00Z"} {
		_, err := f.svc.Create(context.Background(), PostInput{Title: "Dated", Date: date})
		if !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("expected ErrInvalidDate for %q, got %v", date, err)
		}
	}

	var count int64
	f.db.Model(&db.Post{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no stored posts, got %d", count)
	}
}

func TestPostService_UpdateRejectsMalformedDate(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	post, err := f.svc.Create(ctx, PostInput{Title: "Dated", Date: "2025-08-25"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Update(ctx, post.ID, PostPatch{Date: strPtr("next week")}); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}

	stored, err := f.svc.Get(ctx, post.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Date != "2025-08-25" {
		t.Fatalf("expected date to stay 2025-08-25, got %q", stored.Date)
	}
}

// claimSlugOnce makes the next post write lose a race: just before the write
// starts, another row takes the slug the service resolved.
func claimSlugOnce(t *testing.T, gdb *gorm.DB, register func(name string, fn func(*gorm.DB)) error) {
	t.Helper()
	var fired atomic.Bool
	err := register("test:claim_slug", func(tx *gorm.DB) {
		post, ok := tx.Statement.Dest.(*db.Post)
		if !ok || post.Slug == "" || !fired.CompareAndSwap(false, true) {
			return
		}
		rival := db.Post{Title: "Rival", Date: "2025-08-24", Slug: post.Slug}
		if err := gdb.Session(&gorm.Session{NewDB: true}).Create(&rival).Error; err != nil {
			t.Errorf("claim slug %q: %v", post.Slug, err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

func claimOnCreate(gdb *gorm.DB) func(string, func(*gorm.DB)) error {
	return func(name string, fn func(*gorm.DB)) error {
		return gdb.Callback().Create().Before("gorm:begin_transaction").Register(name, fn)
	}
}

func claimOnUpdate(gdb *gorm.DB) func(string, func(*gorm.DB)) error {
	return func(name string, fn func(*gorm.DB)) error {
		return gdb.Callback().Update().Before("gorm:begin_transaction").Register(name, fn)
	}
}

func TestPostService_CreateRetriesWhenDerivedSlugIsTaken(t *testing.T) {
	f := setupPostService(t)
	claimSlugOnce(t, f.db, claimOnCreate(f.db))

	post, err := f.svc.Create(context.Background(), PostInput{Title: "Race Post", Date: "2025-08-25"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if post.Slug != "race-post-2" {
		t.Fatalf("expected race-post-2 after retry, got %q", post.Slug)
	}
	if !fileExists(f.mirrors.TextPath("race-post-2")) {
		t.Fatalf("expected mirror under the retried slug")
	}

	var count int64
	f.db.Model(&db.Post{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected rival and new post, got %d rows", count)
	}
}

func TestPostService_CreateExplicitSlugLosesRace(t *testing.T) {
	f := setupPostService(t)
	claimSlugOnce(t, f.db, claimOnCreate(f.db))

	_, err := f.svc.Create(context.Background(), PostInput{Title: "Mine", Date: "2025-08-25", Slug: "claimed"})
	if !errors.Is(err, ErrSlugConflict) {
		t.Fatalf("expected ErrSlugConflict, got %v", err)
	}
	if fileExists(f.mirrors.TextPath("claimed")) {
		t.Fatalf("no mirror should be written for a failed create")
	}
}

func TestPostService_UpdateRetriesWhenDerivedSlugIsTaken(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	post, err := f.svc.Create(ctx, PostInput{Title: "Before", Date: "2025-08-25"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimSlugOnce(t, f.db, claimOnUpdate(f.db))

	updated, err := f.svc.Update(ctx, post.ID, PostPatch{Title: strPtr("After")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Slug != "after-2" {
		t.Fatalf("expected after-2 after retry, got %q", updated.Slug)
	}
	if fileExists(f.mirrors.TextPath("before")) || !fileExists(f.mirrors.TextPath("after-2")) {
		t.Fatalf("expected mirrors moved from before to after-2")
	}
}

func TestPostService_CreateExplicitSlugConflicts(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, PostInput{Title: "First", Date: "2025-08-25", Slug: "shared"}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	_, err := f.svc.Create(ctx, PostInput{Title: "Second", Date: "2025-08-26", Slug: "Shared"})
	if !errors.Is(err, ErrSlugConflict) {
		t.Fatalf("expected ErrSlugConflict, got %v", err)
	}

	var count int64
	f.db.Model(&db.Post{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single stored post, got %d", count)
	}
}

func TestPostService_UniqueIndexRejectsDuplicateSlug(t *testing.T) {
	f := setupPostService(t)

	if err := f.db.Create(&db.Post{Title: "A", Date: "2025-01-01", Slug: "dup"}).Error; err != nil {
		t.Fatalf("seed post: %v", err)
	}
	err := f.db.Create(&db.Post{Title: "B", Date: "2025-01-01", Slug: "dup"}).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected gorm.ErrDuplicatedKey, got %v", err)
	}
}

func TestPostService_CreateWritesMirrors(t *testing.T) {
	f := setupPostService(t)

	post, err := f.svc.Create(context.Background(), PostInput{
		Title:   "Mirrored",
		Date:    "2025-08-25",
		Summary: "  short  ",
		Tags:    []string{"go", " ", "Go", "web"},
		Body:    "body",
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if got := post.TagList(); len(got) != 2 || got[0] != "go" || got[1] != "web" {
		t.Fatalf("unexpected tags %v", got)
	}
	if post.Summary != "short" {
		t.Fatalf("expected trimmed summary, got %q", post.Summary)
	}
	if !fileExists(f.mirrors.TextPath("mirrored")) || !fileExists(f.mirrors.JSONPath("mirrored")) {
		t.Fatalf("expected both mirror files to exist")
	}
}

func TestPostService_UpdateRequiresFields(t *testing.T) {
	f := setupPostService(t)

	if _, err := f.svc.Update(context.Background(), 1, PostPatch{}); !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), 99, PostPatch{Body: strPtr("x")}); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
}

func TestPostService_UpdateTitleRenamesSlugAndMirrors(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	post, err := f.svc.Create(ctx, PostInput{Title: "Old Title", Date: "2025-08-25"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	updated, err := f.svc.Update(ctx, post.ID, PostPatch{Title: strPtr("New Title")})
	if err != nil {
		t.Fatalf("update post: %v", err)
	}
	if updated.Slug != "new-title" {
		t.Fatalf("expected slug new-title, got %q", updated.Slug)
	}
	if fileExists(f.mirrors.TextPath("old-title")) || fileExists(f.mirrors.JSONPath("old-title")) {
		t.Fatalf("expected old mirrors to be gone")
	}
	if !fileExists(f.mirrors.TextPath("new-title")) || !fileExists(f.mirrors.JSONPath("new-title")) {
		t.Fatalf("expected mirrors under the new slug")
	}
}

func TestPostService_UpdateKeepsSlugWhenTitleMatches(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	post, err := f.svc.Create(ctx, PostInput{Title: "Stable", Date: "2025-08-25", Slug: "custom-stable"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	updated, err := f.svc.Update(ctx, post.ID, PostPatch{Body: strPtr("new body"), Published: boolPtr(false)})
	if err != nil {
		t.Fatalf("update post: %v", err)
	}
	if updated.Slug != "custom-stable" {
		t.Fatalf("expected slug to stay, got %q", updated.Slug)
	}
	if updated.Published {
		t.Fatalf("expected post to be unpublished")
	}
}

func TestPostService_UpdateExplicitSlugConflict(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, PostInput{Title: "Taken", Date: "2025-08-25"}); err != nil {
		t.Fatalf("create taken: %v", err)
	}
	other, err := f.svc.Create(ctx, PostInput{Title: "Other", Date: "2025-08-25"})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	if _, err := f.svc.Update(ctx, other.ID, PostPatch{Slug: strPtr("taken")}); !errors.Is(err, ErrSlugConflict) {
		t.Fatalf("expected ErrSlugConflict, got %v", err)
	}
	if _, err := f.svc.Update(ctx, other.ID, PostPatch{Slug: strPtr("other")}); err != nil {
		t.Fatalf("keeping own slug should succeed: %v", err)
	}
}

func TestPostService_UpdateTitleCollisionSuffixes(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, PostInput{Title: "Shared Name", Date: "2025-08-25"}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := f.svc.Create(ctx, PostInput{Title: "Unique", Date: "2025-08-25"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	updated, err := f.svc.Update(ctx, second.ID, PostPatch{Title: strPtr("Shared Name")})
	if err != nil {
		t.Fatalf("update second: %v", err)
	}
	if updated.Slug != "shared-name-2" {
		t.Fatalf("expected shared-name-2, got %q", updated.Slug)
	}
}

func TestPostService_DeleteRemovesRowMirrorsAndFreesSlug(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	post, err := f.svc.Create(ctx, PostInput{Title: "Gone Soon", Date: "2025-08-25"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if err := f.svc.Delete(ctx, post.ID); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	if fileExists(f.mirrors.TextPath("gone-soon")) || fileExists(f.mirrors.JSONPath("gone-soon")) {
		t.Fatalf("expected mirrors to be removed")
	}
	if err := f.svc.Delete(ctx, post.ID); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound on second delete, got %v", err)
	}

	again, err := f.svc.Create(ctx, PostInput{Title: "Gone Soon", Date: "2025-08-26"})
	if err != nil {
		t.Fatalf("recreate post: %v", err)
	}
	if again.Slug != "gone-soon" {
		t.Fatalf("expected freed slug to be reused, got %q", again.Slug)
	}
}

func TestPostService_CleanupMalformed(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, PostInput{Title: "Healthy", Date: "2025-08-25"}); err != nil {
		t.Fatalf("create healthy: %v", err)
	}
	if err := f.db.Exec("INSERT INTO posts (title, date, slug, published, created_at, updated_at) VALUES (?, ?, NULL, ?, ?, ?)",
		"No Slug", "2025-01-01", true, time.Now(), time.Now()).Error; err != nil {
		t.Fatalf("seed null slug: %v", err)
	}
	if err := f.db.Exec("INSERT INTO posts (title, date, slug, published, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"   ", "2025-01-01", "blank-title", true, time.Now(), time.Now()).Error; err != nil {
		t.Fatalf("seed blank title: %v", err)
	}

	deleted, err := f.svc.CleanupMalformed(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}

	var count int64
	f.db.Model(&db.Post{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 remaining post, got %d", count)
	}
}

func TestPostService_ResyncMirrorsRebuildsFiles(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three"} {
		if _, err := f.svc.Create(ctx, PostInput{Title: title, Date: "2025-08-25"}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	if err := os.RemoveAll(f.mirrors.ContentDir()); err != nil {
		t.Fatalf("remove mirrors: %v", err)
	}

	report, err := f.svc.ResyncMirrors(ctx)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if report.Total != 3 || report.Written != 3 || report.JSONWritten != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !fileExists(f.mirrors.TextPath("two")) {
		t.Fatalf("expected text mirror to be rebuilt")
	}
}

func TestPostService_ListHidesDraftsAndRefreshesAfterMutation(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, PostInput{Title: "Public", Date: "2025-08-20"}); err != nil {
		t.Fatalf("create public: %v", err)
	}
	draft, err := f.svc.Create(ctx, PostInput{Title: "Draft", Date: "2025-08-21", Published: boolPtr(false)})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	published, err := f.svc.List(ctx, false)
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(published) != 1 || published[0].Slug != "public" {
		t.Fatalf("unexpected published list %+v", published)
	}
	all, err := f.svc.List(ctx, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].Slug != "draft" {
		t.Fatalf("expected newest first including drafts, got %+v", all)
	}

	if _, err := f.svc.Update(ctx, draft.ID, PostPatch{Published: boolPtr(true)}); err != nil {
		t.Fatalf("publish draft: %v", err)
	}
	published, err = f.svc.List(ctx, false)
	if err != nil {
		t.Fatalf("list published again: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("expected cache to be purged after update, got %d posts", len(published))
	}
}

func TestPostService_GetBySlugCachesAndHidesDrafts(t *testing.T) {
	f := setupPostService(t)
	ctx := context.Background()

	post, err := f.svc.Create(ctx, PostInput{Title: "Cached", Date: "2025-08-25", Body: "v1"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := f.svc.GetBySlug(ctx, "cached", false); err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if _, ok, _ := f.store.Get(ctx, cache.PostKey("cached")); !ok {
		t.Fatalf("expected post to be cached")
	}

	if _, err := f.svc.Update(ctx, post.ID, PostPatch{Body: strPtr("v2"), Published: boolPtr(false)}); err != nil {
		t.Fatalf("update post: %v", err)
	}
	if _, err := f.svc.GetBySlug(ctx, "cached", false); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected draft to be hidden, got %v", err)
	}
	got, err := f.svc.GetBySlug(ctx, "cached", true)
	if err != nil {
		t.Fatalf("get draft as admin: %v", err)
	}
	if got.Body != "v2" {
		t.Fatalf("expected fresh body after update, got %q", got.Body)
	}
	if _, err := f.svc.GetBySlug(ctx, "missing", true); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
}
