package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/folio/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidVisitor is returned when a visit carries no visitor id.
var ErrInvalidVisitor = errors.New("visitor id is required")

const trendDays = 7

// AnalyticsService 负责站点访问与简历下载的统计。
type AnalyticsService struct {
	db *gorm.DB
}

// NewAnalyticsService 创建 AnalyticsService。
func NewAnalyticsService(gdb *gorm.DB) *AnalyticsService {
	return &AnalyticsService{db: gdb}
}

// DayStat is one day of traffic.
type DayStat struct {
	Day            string `json:"day"`
	PageViews      uint64 `json:"pageViews"`
	UniqueVisitors uint64 `json:"uniqueVisitors"`
	CVDownloads    uint64 `json:"cvDownloads"`
}

// SiteStats 聚合后台首页展示的数据。
type SiteStats struct {
	Posts       int64     `json:"posts"`
	Projects    int       `json:"projects"`
	Visitors    uint64    `json:"visitors"`
	PageViews   uint64    `json:"pageViews"`
	CVDownloads uint64    `json:"cvDownloads"`
	Days        []DayStat `json:"days"`
}

type snapshotDelta struct {
	pageViews      uint64
	uniqueVisitors uint64
	cvDownloads    uint64
}

// RecordVisit counts a page view for the day of now; the first visit of a
// visitor on that day also counts as a unique visitor.
func (s *AnalyticsService) RecordVisit(ctx context.Context, visitorID string, now time.Time) error {
	if visitorID == "" {
		return ErrInvalidVisitor
	}
	day := now.UTC().Format(DateLayout)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "day"}, {Name: "visitor_id"}},
			DoNothing: true,
		}).Create(&db.SiteDailyVisitor{Day: day, VisitorID: visitorID})
		if insert.Error != nil {
			return fmt.Errorf("record visitor: %w", insert.Error)
		}

		delta := snapshotDelta{pageViews: 1}
		if insert.RowsAffected == 1 {
			delta.uniqueVisitors = 1
		}
		return bumpSnapshot(tx, day, delta)
	})
}

// RecordCVDownload counts a CV download for the day of now.
func (s *AnalyticsService) RecordCVDownload(ctx context.Context, now time.Time) error {
	return bumpSnapshot(s.db.WithContext(ctx), now.UTC().Format(DateLayout), snapshotDelta{cvDownloads: 1})
}

func bumpSnapshot(tx *gorm.DB, day string, delta snapshotDelta) error {
	snapshot := db.SiteDailySnapshot{
		Day:            day,
		PageViews:      delta.pageViews,
		UniqueVisitors: delta.uniqueVisitors,
		CVDownloads:    delta.cvDownloads,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"page_views":      gorm.Expr("page_views + ?", delta.pageViews),
			"unique_visitors": gorm.Expr("unique_visitors + ?", delta.uniqueVisitors),
			"cv_downloads":    gorm.Expr("cv_downloads + ?", delta.cvDownloads),
			"updated_at":      gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&snapshot).Error
	if err != nil {
		return fmt.Errorf("update daily snapshot: %w", err)
	}
	return nil
}

// Stats 汇总文章数、项目数、访客与简历下载，并附带最近 7 天的趋势。
func (s *AnalyticsService) Stats(ctx context.Context, now time.Time) (SiteStats, error) {
	var stats SiteStats
	gdb := s.db.WithContext(ctx)

	if err := gdb.Model(&db.Post{}).Count(&stats.Posts).Error; err != nil {
		return stats, fmt.Errorf("count posts: %w", err)
	}

	var home db.HomeDocument
	err := gdb.First(&home, db.HomeDocumentID).Error
	switch {
	case err == nil:
		stats.Projects = len(home.Projects)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return stats, fmt.Errorf("load home document: %w", err)
	}

	var visitors int64
	if err := gdb.Model(&db.SiteDailyVisitor{}).Distinct("visitor_id").Count(&visitors).Error; err != nil {
		return stats, fmt.Errorf("count visitors: %w", err)
	}
	stats.Visitors = uint64(visitors)

	var totals struct {
		PageViews   uint64 `gorm:"column:page_views"`
		CVDownloads uint64 `gorm:"column:cv_downloads"`
	}
	if err := gdb.Model(&db.SiteDailySnapshot{}).
		Select("COALESCE(SUM(page_views), 0) AS page_views, COALESCE(SUM(cv_downloads), 0) AS cv_downloads").
		Scan(&totals).Error; err != nil {
		return stats, fmt.Errorf("sum snapshots: %w", err)
	}
	stats.PageViews = totals.PageViews
	stats.CVDownloads = totals.CVDownloads

	stats.Days, err = s.Trend(ctx, now, trendDays)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// Trend returns one entry per day for the days ending with the day of end,
// oldest first; days without traffic are zero.
func (s *AnalyticsService) Trend(ctx context.Context, end time.Time, days int) ([]DayStat, error) {
	if days <= 0 {
		days = trendDays
	}
	last := end.UTC()
	first := last.AddDate(0, 0, -(days - 1))

	var snapshots []db.SiteDailySnapshot
	if err := s.db.WithContext(ctx).
		Where("day BETWEEN ? AND ?", first.Format(DateLayout), last.Format(DateLayout)).
		Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	byDay := make(map[string]db.SiteDailySnapshot, len(snapshots))
	for _, snap := range snapshots {
		byDay[snap.Day] = snap
	}

	out := make([]DayStat, 0, days)
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i).Format(DateLayout)
		snap := byDay[day]
		out = append(out, DayStat{
			Day:            day,
			PageViews:      snap.PageViews,
			UniqueVisitors: snap.UniqueVisitors,
			CVDownloads:    snap.CVDownloads,
		})
	}
	return out, nil
}
