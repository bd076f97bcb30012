package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/folio/internal/abuse"
	"github.com/folio/internal/db"
	"gorm.io/gorm"
)

// ErrContactNotFound 在指定的留言不存在时返回
var ErrContactNotFound = errors.New("contact message not found")

// Stored field caps, counted in runes.
const (
	maxNameLength      = 100
	maxEmailLength     = 200
	maxMessageLength   = 2000
	maxUserAgentLength = 512

	defaultContactLimit = 50
	maxContactLimit     = 200
)

// ContactService stores contact form submissions that pass the abuse gate.
type ContactService struct {
	db     *gorm.DB
	gate   *abuse.Gate
	now    func() time.Time
	logger *slog.Logger
}

// NewContactService creates a ContactService.
func NewContactService(gdb *gorm.DB, gate *abuse.Gate, logger *slog.Logger) *ContactService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactService{db: gdb, gate: gate, now: time.Now, logger: logger}
}

// Submit screens sub and persists it. A trapped submission returns a nil
// message, VerdictTrapped and no error.
func (s *ContactService) Submit(ctx context.Context, sub abuse.Submission) (*db.ContactMessage, abuse.Verdict, error) {
	verdict, err := s.gate.Evaluate(ctx, sub)
	if err != nil {
		return nil, verdict, err
	}
	if verdict == abuse.VerdictTrapped {
		return nil, verdict, nil
	}

	msg := db.ContactMessage{
		Name:      truncateRunes(strings.TrimSpace(sub.Name), maxNameLength),
		Email:     truncateRunes(strings.TrimSpace(sub.Email), maxEmailLength),
		Message:   truncateRunes(strings.TrimSpace(sub.Message), maxMessageLength),
		IP:        sub.Source,
		UserAgent: truncateRunes(sub.UserAgent, maxUserAgentLength),
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, verdict, fmt.Errorf("save contact message: %w", err)
	}
	s.logger.Info("contact message stored", "id", msg.ID, "source", sub.Source)
	return &msg, verdict, nil
}

// List returns messages newest first. Non-positive limits use the default.
func (s *ContactService) List(ctx context.Context, skip, limit int) ([]db.ContactMessage, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultContactLimit
	}
	if limit > maxContactLimit {
		limit = maxContactLimit
	}

	items := []db.ContactMessage{}
	if err := s.db.WithContext(ctx).
		Order("created_at desc, id desc").
		Offset(skip).
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list contact messages: %w", err)
	}
	return items, nil
}

// Delete removes one message.
func (s *ContactService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&db.ContactMessage{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete contact message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrContactNotFound
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
