package db

import "time"

// SiteDailySnapshot 记录站点每天的访问与简历下载计数。
type SiteDailySnapshot struct {
	ID             uint   `gorm:"primaryKey"`
	Day            string `gorm:"size:10;uniqueIndex"`
	PageViews      uint64 `gorm:"not null"`
	UniqueVisitors uint64 `gorm:"not null"`
	CVDownloads    uint64 `gorm:"column:cv_downloads;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定自定义表名。
func (SiteDailySnapshot) TableName() string {
	return "site_daily_snapshots"
}

// SiteDailyVisitor 记录每天出现过的访客，用于 UV 去重。
type SiteDailyVisitor struct {
	ID        uint   `gorm:"primaryKey"`
	Day       string `gorm:"size:10;uniqueIndex:idx_site_day_visitor"`
	VisitorID string `gorm:"size:64;uniqueIndex:idx_site_day_visitor"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (SiteDailyVisitor) TableName() string {
	return "site_daily_visitors"
}
