package abuse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/folio/internal/cache"
)

// LoginLimits bounds failed sign-in attempts per source.
type LoginLimits struct {
	Window      time.Duration `yaml:"window"`
	MaxFailures int           `yaml:"max_failures"`
}

// DefaultLoginLimits allows 5 failed attempts per 15 minutes.
func DefaultLoginLimits() LoginLimits {
	return LoginLimits{Window: 15 * time.Minute, MaxFailures: 5}
}

// WithDefaults fills zero fields from DefaultLoginLimits.
func (l LoginLimits) WithDefaults() LoginLimits {
	d := DefaultLoginLimits()
	if l.Window <= 0 {
		l.Window = d.Window
	}
	if l.MaxFailures <= 0 {
		l.MaxFailures = d.MaxFailures
	}
	return l
}

// LoginLimiter throttles sign-in per source. Only failures are counted; a
// successful sign-in clears the source.
type LoginLimiter struct {
	store  cache.Store
	limits LoginLimits
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

// LoginOption configures a LoginLimiter.
type LoginOption func(*LoginLimiter)

// WithLoginClock overrides the time source.
func WithLoginClock(now func() time.Time) LoginOption {
	return func(l *LoginLimiter) {
		l.now = now
	}
}

// WithLoginLogger sets the logger for blocked sources.
func WithLoginLogger(logger *slog.Logger) LoginOption {
	return func(l *LoginLimiter) {
		l.logger = logger
	}
}

// NewLoginLimiter creates a LoginLimiter keeping its counters in store.
func NewLoginLimiter(store cache.Store, limits LoginLimits, opts ...LoginOption) *LoginLimiter {
	l := &LoginLimiter{
		store:  store,
		limits: limits.WithDefaults(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func loginKey(source string) string {
	return "login:fail:" + source
}

// Check returns ErrRateLimited once source has used up its failures for the
// current window. It records nothing.
func (l *LoginLimiter) Check(ctx context.Context, source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := loadCounter(ctx, l.store, loginKey(source), l.limits.Window, l.now())
	if err != nil {
		return err
	}
	if entry.Count >= l.limits.MaxFailures {
		l.logger.Warn("login blocked", "source", source, "failures", entry.Count)
		return ErrRateLimited
	}
	return nil
}

// Fail records a failed attempt for source.
func (l *LoginLimiter) Fail(ctx context.Context, source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := loginKey(source)
	entry, err := loadCounter(ctx, l.store, key, l.limits.Window, now)
	if err != nil {
		return err
	}
	entry.Count++
	return saveCounter(ctx, l.store, key, entry, l.limits.Window, now)
}

// Reset forgets the failures of source.
func (l *LoginLimiter) Reset(ctx context.Context, source string) error {
	return l.store.Delete(ctx, loginKey(source))
}
