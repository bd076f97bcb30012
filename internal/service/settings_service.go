package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/folio/internal/cache"
	"github.com/folio/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSettings 表示站点设置中存在无法使用的值。
var ErrInvalidSettings = errors.New("invalid site settings")

const (
	defaultSiteName = "folio"
	defaultLocale   = "tr_TR"
)

// SiteSettings 描述前台页面元信息所需的站点设置。
type SiteSettings struct {
	SiteName       string   `json:"siteName"`
	DefaultTitle   string   `json:"defaultTitle"`
	TitleTemplate  string   `json:"titleTemplate"`
	Description    string   `json:"description"`
	Keywords       []string `json:"keywords"`
	TwitterCreator string   `json:"twitterCreator"`
	Locale         string   `json:"locale"`
	SiteURL        string   `json:"siteUrl"`
	DefaultOGImage string   `json:"defaultOgImage"`
}

// DefaultSiteSettings is served until an admin saves settings.
func DefaultSiteSettings() SiteSettings {
	return SiteSettings{
		SiteName:      defaultSiteName,
		DefaultTitle:  defaultSiteName,
		TitleTemplate: "%s - " + defaultSiteName,
		Keywords:      []string{},
		Locale:        defaultLocale,
	}
}

// SettingsService 提供站点设置的读取与更新能力。
type SettingsService struct {
	db    *gorm.DB
	cache *cache.Invalidator
}

// NewSettingsService 构造 SettingsService。
func NewSettingsService(gdb *gorm.DB, inv *cache.Invalidator) *SettingsService {
	return &SettingsService{db: gdb, cache: inv}
}

var settingKeys = []string{
	db.SettingKeySiteName,
	db.SettingKeyDefaultTitle,
	db.SettingKeyTitleTemplate,
	db.SettingKeyDescription,
	db.SettingKeyKeywords,
	db.SettingKeyTwitterCreator,
	db.SettingKeyLocale,
	db.SettingKeySiteURL,
	db.SettingKeyDefaultOGImage,
}

// Get 读取站点设置，未保存的字段使用默认值。
func (s *SettingsService) Get(ctx context.Context) (SiteSettings, error) {
	return cache.Remember(ctx, s.cache, cache.KeySettings, s.load)
}

func (s *SettingsService) load(ctx context.Context) (SiteSettings, error) {
	result := DefaultSiteSettings()

	var records []db.SystemSetting
	if err := s.db.WithContext(ctx).Where("key IN ?", settingKeys).Find(&records).Error; err != nil {
		return result, fmt.Errorf("load site settings: %w", err)
	}

	for _, record := range records {
		switch record.Key {
		case db.SettingKeySiteName:
			if strings.TrimSpace(record.Value) != "" {
				result.SiteName = record.Value
			}
		case db.SettingKeyDefaultTitle:
			result.DefaultTitle = record.Value
		case db.SettingKeyTitleTemplate:
			result.TitleTemplate = record.Value
		case db.SettingKeyDescription:
			result.Description = record.Value
		case db.SettingKeyKeywords:
			var keywords []string
			if err := json.Unmarshal([]byte(record.Value), &keywords); err == nil {
				result.Keywords = nonNil(keywords)
			}
		case db.SettingKeyTwitterCreator:
			result.TwitterCreator = record.Value
		case db.SettingKeyLocale:
			if strings.TrimSpace(record.Value) != "" {
				result.Locale = record.Value
			}
		case db.SettingKeySiteURL:
			result.SiteURL = record.Value
		case db.SettingKeyDefaultOGImage:
			result.DefaultOGImage = record.Value
		}
	}
	return result, nil
}

// Update 校验并保存站点设置，站点名称与语言留空时回退默认值。
func (s *SettingsService) Update(ctx context.Context, input SiteSettings) (SiteSettings, error) {
	sanitized, err := sanitizeSettings(input)
	if err != nil {
		return SiteSettings{}, err
	}

	keywords, err := json.Marshal(sanitized.Keywords)
	if err != nil {
		return SiteSettings{}, fmt.Errorf("encode keywords: %w", err)
	}
	values := map[string]string{
		db.SettingKeySiteName:       sanitized.SiteName,
		db.SettingKeyDefaultTitle:   sanitized.DefaultTitle,
		db.SettingKeyTitleTemplate:  sanitized.TitleTemplate,
		db.SettingKeyDescription:    sanitized.Description,
		db.SettingKeyKeywords:       string(keywords),
		db.SettingKeyTwitterCreator: sanitized.TwitterCreator,
		db.SettingKeyLocale:         sanitized.Locale,
		db.SettingKeySiteURL:        sanitized.SiteURL,
		db.SettingKeyDefaultOGImage: sanitized.DefaultOGImage,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range settingKeys {
			if err := upsertSetting(tx, key, values[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SiteSettings{}, fmt.Errorf("update site settings: %w", err)
	}

	s.cache.SettingsChanged(ctx)
	return sanitized, nil
}

func sanitizeSettings(input SiteSettings) (SiteSettings, error) {
	out := SiteSettings{
		SiteName:       strings.TrimSpace(input.SiteName),
		DefaultTitle:   strings.TrimSpace(input.DefaultTitle),
		TitleTemplate:  strings.TrimSpace(input.TitleTemplate),
		Description:    strings.TrimSpace(input.Description),
		Keywords:       normalizeTags(input.Keywords),
		TwitterCreator: strings.TrimSpace(input.TwitterCreator),
		Locale:         strings.TrimSpace(input.Locale),
		SiteURL:        strings.TrimRight(strings.TrimSpace(input.SiteURL), "/"),
		DefaultOGImage: strings.TrimSpace(input.DefaultOGImage),
	}
	if out.SiteName == "" {
		out.SiteName = defaultSiteName
	}
	if out.Locale == "" {
		out.Locale = defaultLocale
	}
	if out.TitleTemplate != "" && !strings.Contains(out.TitleTemplate, "%s") {
		return out, fmt.Errorf("%w: title template must contain %%s", ErrInvalidSettings)
	}
	if out.SiteURL != "" {
		u, err := url.Parse(out.SiteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return out, fmt.Errorf("%w: site url must be an absolute http(s) url", ErrInvalidSettings)
		}
	}
	return out, nil
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	setting := db.SystemSetting{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
