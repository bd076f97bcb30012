package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/folio/internal/cache"
	"github.com/folio/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// recentPostCount is how many published posts the home document embeds.
const recentPostCount = 3

// HomeInput is the editable part of the home document.
type HomeInput struct {
	Highlights  []string              `json:"highlights"`
	Skills      map[string][]db.Skill `json:"skills"`
	Experiences []db.Experience       `json:"experiences"`
	Projects    []db.Project          `json:"projects"`
	HasCV       bool                  `json:"hasCv"`
}

// RecentPost is the teaser of a post shown on the home page.
type RecentPost struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

// Home is the landing page payload.
type Home struct {
	HomeInput
	UpdatedAt   time.Time    `json:"updatedAt"`
	RecentPosts []RecentPost `json:"recentPosts"`
}

// HomeService 维护首页的单例文档
type HomeService struct {
	db    *gorm.DB
	cache *cache.Invalidator
}

// NewHomeService creates a HomeService.
func NewHomeService(gdb *gorm.DB, inv *cache.Invalidator) *HomeService {
	return &HomeService{db: gdb, cache: inv}
}

// Get returns the home document, seeding an empty one on first use.
func (s *HomeService) Get(ctx context.Context) (*Home, error) {
	home, err := cache.Remember(ctx, s.cache, cache.KeyHome, s.load)
	if err != nil {
		return nil, err
	}
	return &home, nil
}

// Upsert replaces the editable content of the home document.
func (s *HomeService) Upsert(ctx context.Context, input HomeInput) (*Home, error) {
	doc := db.HomeDocument{
		ID:          db.HomeDocumentID,
		Highlights:  nonNil(input.Highlights),
		Skills:      datatypes.NewJSONType(skillsOrEmpty(input.Skills)),
		Experiences: nonNil(input.Experiences),
		Projects:    nonNil(input.Projects),
		HasCV:       input.HasCV,
	}
	if err := s.db.WithContext(ctx).Save(&doc).Error; err != nil {
		return nil, fmt.Errorf("save home document: %w", err)
	}
	s.cache.HomeChanged(ctx)
	return s.Get(ctx)
}

// Delete resets the home document; the next read seeds an empty one.
func (s *HomeService) Delete(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&db.HomeDocument{}, db.HomeDocumentID).Error; err != nil {
		return fmt.Errorf("delete home document: %w", err)
	}
	s.cache.HomeChanged(ctx)
	return nil
}

func (s *HomeService) load(ctx context.Context) (Home, error) {
	var doc db.HomeDocument
	err := s.db.WithContext(ctx).First(&doc, db.HomeDocumentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		doc = emptyHomeDocument()
		err = s.db.WithContext(ctx).Create(&doc).Error
	}
	if err != nil {
		return Home{}, fmt.Errorf("load home document: %w", err)
	}

	var posts []db.Post
	if err := s.db.WithContext(ctx).
		Where("published = ?", true).
		Order("date desc, id desc").
		Limit(recentPostCount).
		Find(&posts).Error; err != nil {
		return Home{}, fmt.Errorf("load recent posts: %w", err)
	}

	home := Home{
		HomeInput: HomeInput{
			Highlights:  nonNil([]string(doc.Highlights)),
			Skills:      skillsOrEmpty(doc.Skills.Data()),
			Experiences: nonNil([]db.Experience(doc.Experiences)),
			Projects:    nonNil([]db.Project(doc.Projects)),
			HasCV:       doc.HasCV,
		},
		UpdatedAt:   doc.UpdatedAt,
		RecentPosts: make([]RecentPost, 0, len(posts)),
	}
	for _, post := range posts {
		home.RecentPosts = append(home.RecentPosts, RecentPost{
			Title:   post.Title,
			Slug:    post.Slug,
			Date:    post.Date,
			Summary: post.Summary,
		})
	}
	return home, nil
}

func emptyHomeDocument() db.HomeDocument {
	return db.HomeDocument{
		ID:          db.HomeDocumentID,
		Highlights:  []string{},
		Skills:      datatypes.NewJSONType(map[string][]db.Skill{}),
		Experiences: []db.Experience{},
		Projects:    []db.Project{},
	}
}

func skillsOrEmpty(skills map[string][]db.Skill) map[string][]db.Skill {
	if skills == nil {
		return map[string][]db.Skill{}
	}
	return skills
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
