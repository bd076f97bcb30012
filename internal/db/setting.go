package db

import "gorm.io/gorm"

// SystemSetting 存储后台可配置的站点级键值对。
type SystemSetting struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (SystemSetting) TableName() string {
	return "system_settings"
}

const (
	SettingKeySiteName       = "site_name"
	SettingKeyDefaultTitle   = "default_title"
	SettingKeyTitleTemplate  = "title_template"
	SettingKeyDescription    = "description"
	SettingKeyKeywords       = "keywords"
	SettingKeyTwitterCreator = "twitter_creator"
	SettingKeyLocale         = "locale"
	SettingKeySiteURL        = "site_url"
	SettingKeyDefaultOGImage = "default_og_image"
)
