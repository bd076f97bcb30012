package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/folio/internal/cache"
	"github.com/folio/internal/db"
	"github.com/folio/internal/mirror"
	"github.com/folio/internal/slug"
	"gorm.io/gorm"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrInvalidPost  = errors.New("title and date are required")
	ErrInvalidDate  = errors.New("date must be formatted as YYYY-MM-DD")
	ErrNoChanges    = errors.New("no fields to update")
	ErrSlugConflict = errors.New("slug already exists")
)

// DateLayout is the only accepted post date format.
const DateLayout = "2006-01-02"

// slugWriteAttempts bounds how often an auto-derived slug is re-resolved after
// the unique index rejected a concurrent duplicate.
const slugWriteAttempts = 3

// PostService wraps post related database operations and keeps the file
// mirrors and read caches in step with every mutation.
type PostService struct {
	db      *gorm.DB
	slugs   *slug.Resolver
	mirrors *mirror.Store
	cache   *cache.Invalidator
	logger  *slog.Logger
}

// PostInput represents fields accepted when creating a post. An empty Slug
// asks for one derived from the title.
type PostInput struct {
	Title     string
	Date      string
	Summary   string
	Slug      string
	Tags      []string
	Body      string
	Published *bool
}

// PostPatch is a partial update; nil fields are left untouched.
type PostPatch struct {
	Title     *string
	Date      *string
	Summary   *string
	Slug      *string
	Tags      *[]string
	Body      *string
	Published *bool
}

// Empty reports whether the patch carries no field at all.
func (p PostPatch) Empty() bool {
	return p.Title == nil && p.Date == nil && p.Summary == nil && p.Slug == nil &&
		p.Tags == nil && p.Body == nil && p.Published == nil
}

// NewPostService creates a PostService instance.
func NewPostService(gdb *gorm.DB, mirrors *mirror.Store, inv *cache.Invalidator, logger *slog.Logger) *PostService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PostService{db: gdb, mirrors: mirrors, cache: inv, logger: logger}
	s.slugs = slug.NewResolver(s)
	return s
}

// SlugTaken reports whether a post other than excludeID holds slug.
func (s *PostService) SlugTaken(ctx context.Context, value string, excludeID uint) (bool, error) {
	query := s.db.WithContext(ctx).Model(&db.Post{}).Where("slug = ?", value)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("probe slug: %w", err)
	}
	return count > 0, nil
}

// Create validates and stores a new post, then mirrors it to disk.
func (s *PostService) Create(ctx context.Context, input PostInput) (*db.Post, error) {
	title := strings.TrimSpace(input.Title)
	date := strings.TrimSpace(input.Date)
	if title == "" || date == "" {
		return nil, ErrInvalidPost
	}
	if err := checkDate(date); err != nil {
		return nil, err
	}

	post := db.Post{
		Title:     title,
		Date:      date,
		Summary:   strings.TrimSpace(input.Summary),
		Tags:      normalizeTags(input.Tags),
		Body:      input.Body,
		Published: true,
	}
	if input.Published != nil {
		post.Published = *input.Published
	}

	explicit := strings.TrimSpace(input.Slug) != ""
	for attempt := 1; ; attempt++ {
		var err error
		if explicit {
			post.Slug, err = s.slugs.Explicit(ctx, input.Slug, 0)
		} else {
			post.Slug, err = s.slugs.Unique(ctx, slug.Make(title), 0)
		}
		if err != nil {
			return nil, slugError(err)
		}

		err = s.db.WithContext(ctx).Create(&post).Error
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("create post: %w", err)
		}
		if explicit || attempt >= slugWriteAttempts {
			return nil, fmt.Errorf("%w: %s", ErrSlugConflict, post.Slug)
		}
		s.logger.Info("slug claimed concurrently, retrying", "slug", post.Slug, "attempt", attempt)
		post.ID = 0
	}

	s.mirrors.OnCreate(toDocument(post))
	s.cache.PostsChanged(ctx, post.Slug)
	return &post, nil
}

// Update applies a partial patch. A changed title re-derives the slug unless
// the patch names one explicitly; a renamed post has its mirrors moved.
func (s *PostService) Update(ctx context.Context, id uint, patch PostPatch) (*db.Post, error) {
	if patch.Empty() {
		return nil, ErrNoChanges
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	oldSlug := existing.Slug
	oldTitle := existing.Title

	if patch.Title != nil {
		existing.Title = strings.TrimSpace(*patch.Title)
		if existing.Title == "" {
			return nil, ErrInvalidPost
		}
	}
	if patch.Date != nil {
		existing.Date = strings.TrimSpace(*patch.Date)
		if existing.Date == "" {
			return nil, ErrInvalidPost
		}
		if err := checkDate(existing.Date); err != nil {
			return nil, err
		}
	}
	if patch.Summary != nil {
		existing.Summary = strings.TrimSpace(*patch.Summary)
	}
	if patch.Tags != nil {
		existing.Tags = normalizeTags(*patch.Tags)
	}
	if patch.Body != nil {
		existing.Body = *patch.Body
	}
	if patch.Published != nil {
		existing.Published = *patch.Published
	}

	explicit := patch.Slug != nil && strings.TrimSpace(*patch.Slug) != ""
	derive := !explicit && (patch.Slug != nil || existing.Title != oldTitle || oldSlug == "")

	for attempt := 1; ; attempt++ {
		switch {
		case explicit:
			existing.Slug, err = s.slugs.Explicit(ctx, *patch.Slug, existing.ID)
		case derive:
			existing.Slug, err = s.slugs.Derive(ctx, existing.Title, oldSlug, existing.ID)
		}
		if err != nil {
			return nil, slugError(err)
		}

		err = s.db.WithContext(ctx).Save(existing).Error
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("update post: %w", err)
		}
		if !derive || attempt >= slugWriteAttempts {
			return nil, fmt.Errorf("%w: %s", ErrSlugConflict, existing.Slug)
		}
		s.logger.Info("slug claimed concurrently, retrying", "slug", existing.Slug, "attempt", attempt)
	}

	s.mirrors.OnUpdate(oldSlug, toDocument(*existing))
	s.cache.PostsChanged(ctx, oldSlug, existing.Slug)
	return existing, nil
}

// Delete removes a post by id together with its mirrors. Rows are removed
// permanently so the slug becomes available again.
func (s *PostService) Delete(ctx context.Context, id uint) error {
	post, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Unscoped().Delete(&db.Post{}, post.ID).Error; err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	if post.Slug != "" {
		s.mirrors.OnDelete(post.Slug)
	}
	s.cache.PostsChanged(ctx, post.Slug)
	return nil
}

// CleanupMalformed deletes posts whose slug or title is missing and returns
// how many were removed.
func (s *PostService) CleanupMalformed(ctx context.Context) (int64, error) {
	var broken []struct {
		ID   uint
		Slug string
	}
	if err := s.db.WithContext(ctx).Model(&db.Post{}).Unscoped().
		Select("id, COALESCE(slug, '') AS slug").
		Where("slug IS NULL OR TRIM(slug) = '' OR title IS NULL OR TRIM(title) = ''").
		Scan(&broken).Error; err != nil {
		return 0, fmt.Errorf("find malformed posts: %w", err)
	}
	if len(broken) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(broken))
	for _, post := range broken {
		ids = append(ids, post.ID)
	}
	result := s.db.WithContext(ctx).Unscoped().Delete(&db.Post{}, ids)
	if result.Error != nil {
		return 0, fmt.Errorf("delete malformed posts: %w", result.Error)
	}

	slugs := make([]string, 0, len(broken))
	for _, post := range broken {
		if strings.TrimSpace(post.Slug) != "" {
			s.mirrors.OnDelete(post.Slug)
			slugs = append(slugs, post.Slug)
		}
	}
	s.cache.PostsChanged(ctx, slugs...)
	s.logger.Info("malformed posts removed", "count", result.RowsAffected)
	return result.RowsAffected, nil
}

// ResyncMirrors rewrites the mirrors of every stored post.
func (s *PostService) ResyncMirrors(ctx context.Context) (mirror.SyncReport, error) {
	var posts []db.Post
	if err := s.db.WithContext(ctx).Order("id asc").Find(&posts).Error; err != nil {
		return mirror.SyncReport{}, fmt.Errorf("load posts: %w", err)
	}

	docs := make([]mirror.Document, 0, len(posts))
	for _, post := range posts {
		docs = append(docs, toDocument(post))
	}
	return s.mirrors.BulkResync(docs), nil
}

// List returns posts newest first. Drafts are only included on request.
func (s *PostService) List(ctx context.Context, includeDrafts bool) ([]db.Post, error) {
	key := cache.KeyPublishedPosts
	if includeDrafts {
		key = cache.KeyPosts
	}
	return cache.Remember(ctx, s.cache, key, func(ctx context.Context) ([]db.Post, error) {
		query := s.db.WithContext(ctx).Order("date desc, id desc")
		if !includeDrafts {
			query = query.Where("published = ?", true)
		}
		posts := []db.Post{}
		if err := query.Find(&posts).Error; err != nil {
			return nil, fmt.Errorf("list posts: %w", err)
		}
		return posts, nil
	})
}

// GetBySlug fetches a post by slug. Drafts are reported as missing unless
// includeDrafts is set.
func (s *PostService) GetBySlug(ctx context.Context, value string, includeDrafts bool) (*db.Post, error) {
	post, err := cache.Remember(ctx, s.cache, cache.PostKey(value), func(ctx context.Context) (db.Post, error) {
		var post db.Post
		if err := s.db.WithContext(ctx).Where("slug = ?", value).First(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return post, ErrPostNotFound
			}
			return post, err
		}
		return post, nil
	})
	if err != nil {
		return nil, err
	}
	if !post.Published && !includeDrafts {
		return nil, ErrPostNotFound
	}
	return &post, nil
}

// Get fetches a post by id.
func (s *PostService) Get(ctx context.Context, id uint) (*db.Post, error) {
	var post db.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

func checkDate(value string) error {
	if _, err := time.Parse(DateLayout, value); err != nil {
		return ErrInvalidDate
	}
	return nil
}

func slugError(err error) error {
	if errors.Is(err, slug.ErrConflict) || errors.Is(err, slug.ErrExhausted) {
		return fmt.Errorf("%w: %w", ErrSlugConflict, err)
	}
	return err
}

func toDocument(post db.Post) mirror.Document {
	return mirror.Document{
		Title:     post.Title,
		Date:      post.Date,
		Summary:   post.Summary,
		Slug:      post.Slug,
		Tags:      post.TagList(),
		Published: post.Published,
		Body:      post.Body,
	}
}

// normalizeTags trims tags and drops empty and repeated ones, keeping order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
