package db

import (
	"time"

	"gorm.io/datatypes"
)

// HomeDocumentID is the primary key of the singleton home document.
const HomeDocumentID = 1

// Skill is a single entry in a skill group on the home page.
type Skill struct {
	Name  string `json:"name"`
	Level string `json:"level"`
}

// Experience describes one position in the work history.
type Experience struct {
	Company      string   `json:"company"`
	Role         string   `json:"role"`
	Period       string   `json:"period"`
	Achievements []string `json:"achievements"`
}

// Project is a showcased project card.
type Project struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Href    string   `json:"href"`
}

// HomeDocument holds the editable content of the landing page.
type HomeDocument struct {
	ID          uint                                   `gorm:"primaryKey"`
	Highlights  datatypes.JSONSlice[string]            `gorm:"type:json"`
	Skills      datatypes.JSONType[map[string][]Skill] `gorm:"type:json"`
	Experiences datatypes.JSONSlice[Experience]        `gorm:"type:json"`
	Projects    datatypes.JSONSlice[Project]           `gorm:"type:json"`
	HasCV       bool
	UpdatedAt   time.Time
}

// TableName 返回自定义表名
func (HomeDocument) TableName() string {
	return "home_documents"
}

// CacheEntry backs the database cache store shared by several processes.
type CacheEntry struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:255"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

// TableName 返回自定义表名
func (CacheEntry) TableName() string {
	return "cache_entries"
}
