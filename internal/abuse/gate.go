// Package abuse screens public contact submissions and sign-in attempts.
package abuse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/folio/internal/cache"
)

var (
	// ErrInvalid reports a submission with a missing required field.
	ErrInvalid = errors.New("name, email and message are required")
	// ErrRateLimited is returned for every rejection after validation. The
	// wrapped reason is for logs only and must not reach the client.
	ErrRateLimited = errors.New("too many requests")
)

// Verdict is the outcome of a passed evaluation.
type Verdict int

const (
	// VerdictAccept means the submission may be persisted.
	VerdictAccept Verdict = iota
	// VerdictTrapped means the honeypot caught a bot: answer success, store nothing.
	VerdictTrapped
)

// Submission is an inbound contact form post.
type Submission struct {
	Name     string
	Email    string
	Message  string
	Honeypot string
	// Timestamp is the client render time in Unix seconds (milliseconds are
	// detected and converted); zero means the client sent none.
	Timestamp int64
	Source    string
	UserAgent string
}

// Limits holds the gate thresholds.
type Limits struct {
	ShortWindow   time.Duration `yaml:"short_window"`
	ShortMax      int           `yaml:"short_max"`
	LongWindow    time.Duration `yaml:"long_window"`
	LongMax       int           `yaml:"long_max"`
	DuplicateTTL  time.Duration `yaml:"duplicate_ttl"`
	MinAge        time.Duration `yaml:"min_age"`
	MaxAge        time.Duration `yaml:"max_age"`
	HoneypotDelay time.Duration `yaml:"honeypot_delay"`
}

// DefaultLimits returns 3 per minute, 10 per ten minutes, 5-minute duplicate
// memory, a 2s..1h render-age window and a 200ms honeypot delay.
func DefaultLimits() Limits {
	return Limits{
		ShortWindow:   time.Minute,
		ShortMax:      3,
		LongWindow:    10 * time.Minute,
		LongMax:       10,
		DuplicateTTL:  5 * time.Minute,
		MinAge:        2 * time.Second,
		MaxAge:        time.Hour,
		HoneypotDelay: 200 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultLimits. A negative
// HoneypotDelay disables the delay.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.ShortWindow <= 0 {
		l.ShortWindow = d.ShortWindow
	}
	if l.ShortMax <= 0 {
		l.ShortMax = d.ShortMax
	}
	if l.LongWindow <= 0 {
		l.LongWindow = d.LongWindow
	}
	if l.LongMax <= 0 {
		l.LongMax = d.LongMax
	}
	if l.DuplicateTTL <= 0 {
		l.DuplicateTTL = d.DuplicateTTL
	}
	if l.MinAge <= 0 {
		l.MinAge = d.MinAge
	}
	if l.MaxAge <= 0 {
		l.MaxAge = d.MaxAge
	}
	if l.HoneypotDelay == 0 {
		l.HoneypotDelay = d.HoneypotDelay
	} else if l.HoneypotDelay < 0 {
		l.HoneypotDelay = 0
	}
	return l
}

// Gate evaluates submissions in a fixed order and stops at the first failure.
type Gate struct {
	store  cache.Store
	limits Limits
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger

	// serialises read-modify-write of counters within this process
	mu sync.Mutex
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithSleep overrides how the honeypot delay is spent.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gate) {
		g.sleep = sleep
	}
}

// WithLogger sets the logger for rejections.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a Gate keeping its counters in store.
func NewGate(store cache.Store, limits Limits, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		limits: limits.WithDefaults(),
		now:    time.Now,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limits returns the effective thresholds.
func (g *Gate) Limits() Limits {
	return g.limits
}

// Evaluate runs the checks: required fields, honeypot, render age, the two
// rate windows and duplicate content.
func (g *Gate) Evaluate(ctx context.Context, sub Submission) (Verdict, error) {
	if strings.TrimSpace(sub.Name) == "" || strings.TrimSpace(sub.Email) == "" || strings.TrimSpace(sub.Message) == "" {
		return VerdictAccept, ErrInvalid
	}

	if sub.Honeypot != "" {
		g.logger.Info("contact honeypot triggered", "source", sub.Source)
		if err := g.sleep(ctx, g.limits.HoneypotDelay); err != nil {
			return VerdictAccept, err
		}
		return VerdictTrapped, nil
	}

	if err := g.checkAge(sub.Timestamp); err != nil {
		return g.reject(sub, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// The long window is only counted when the short window passes.
	short, err := g.hit(ctx, "contact:rl:1m:"+sub.Source, g.limits.ShortWindow, g.limits.ShortMax)
	if err != nil {
		return VerdictAccept, err
	}
	if short {
		return g.reject(sub, errors.New("short window exceeded"))
	}
	long, err := g.hit(ctx, "contact:rl:10m:"+sub.Source, g.limits.LongWindow, g.limits.LongMax)
	if err != nil {
		return VerdictAccept, err
	}
	if long {
		return g.reject(sub, errors.New("long window exceeded"))
	}

	duplicate, err := g.remember(ctx, "contact:dup:"+sub.Source, Fingerprint(sub.Message))
	if err != nil {
		return VerdictAccept, err
	}
	if duplicate {
		return g.reject(sub, errors.New("duplicate message"))
	}

	return VerdictAccept, nil
}

func (g *Gate) reject(sub Submission, reason error) (Verdict, error) {
	g.logger.Info("contact rejected", "source", sub.Source, "reason", reason.Error())
	return VerdictAccept, fmt.Errorf("%w: %w", ErrRateLimited, reason)
}

func (g *Gate) checkAge(ts int64) error {
	if ts <= 0 {
		return nil
	}
	if ts > 1_000_000_000_000 {
		ts /= 1000
	}
	age := g.now().Sub(time.Unix(ts, 0))
	if age < g.limits.MinAge {
		return errors.New("submitted too fast")
	}
	if age > g.limits.MaxAge {
		return errors.New("form is stale")
	}
	return nil
}

// hit increments the counter at key and reports whether it now exceeds max.
// A missing counter starts a new window with a fresh expiry; an existing one
// keeps its window start and expiry.
func (g *Gate) hit(ctx context.Context, key string, window time.Duration, max int) (bool, error) {
	now := g.now()
	entry, err := loadCounter(ctx, g.store, key, window, now)
	if err != nil {
		return false, err
	}
	entry.Count++
	if err := saveCounter(ctx, g.store, key, entry, window, now); err != nil {
		return false, err
	}
	return entry.Count > max, nil
}

// remember stores fingerprint under key and reports whether it equals the
// previous one. A matching fingerprint keeps its original expiry.
func (g *Gate) remember(ctx context.Context, key, fingerprint string) (bool, error) {
	raw, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if ok && string(raw) == fingerprint {
		return true, nil
	}
	if err := g.store.Set(ctx, key, []byte(fingerprint), g.limits.DuplicateTTL); err != nil {
		return false, err
	}
	return false, nil
}

// Fingerprint hashes the trimmed message.
func Fingerprint(message string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(message)))
	return hex.EncodeToString(sum[:])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
