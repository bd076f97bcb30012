package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Post 定义了文章模型
// Slug is unique across posts; the index backs the duplicate-key retry in the post service.
type Post struct {
	gorm.Model
	Title     string                      `gorm:"size:300"`
	Date      string                      `gorm:"size:32"`
	Summary   string                      `gorm:"type:text"`
	Slug      string                      `gorm:"size:200;uniqueIndex"`
	Tags      datatypes.JSONSlice[string] `gorm:"type:json"`
	Body      string                      `gorm:"type:text"`
	Published bool
}

// TagList returns the tags as a plain slice, never nil.
func (p Post) TagList() []string {
	if len(p.Tags) == 0 {
		return []string{}
	}
	out := make([]string, len(p.Tags))
	copy(out, p.Tags)
	return out
}

// ContactMessage 保存前台联系表单提交的内容
type ContactMessage struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:100;not null"`
	Email     string    `gorm:"size:200;not null"`
	Message   string    `gorm:"size:2000;not null"`
	IP        string    `gorm:"size:64"`
	UserAgent string    `gorm:"size:512"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName 返回自定义表名
func (ContactMessage) TableName() string {
	return "contact_messages"
}
