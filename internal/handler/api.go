package handler

import (
	"log/slog"
	"time"

	"github.com/folio/internal/abuse"
	"github.com/folio/internal/cache"
	"github.com/folio/internal/mirror"
	"github.com/folio/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	posts     *service.PostService
	contacts  *service.ContactService
	home      *service.HomeService
	settings  *service.SettingsService
	analytics *service.AnalyticsService
	logins    *abuse.LoginLimiter
	logger    *slog.Logger
}

// Options carries the pieces NewAPI wires into the services.
type Options struct {
	Mirrors  mirror.Config
	Cache    cache.Store
	CacheTTL time.Duration
	Limits   abuse.Limits
	Login    abuse.LoginLimits
	Logger   *slog.Logger
}

// NewAPI constructs a handler set with shared services. A nil cache store
// falls back to process memory.
func NewAPI(gdb *gorm.DB, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Cache
	if store == nil {
		store = cache.NewMemory()
	}

	inv := cache.NewInvalidator(store, opts.CacheTTL, logger.With("component", "cache"))
	mirrors := mirror.NewStore(opts.Mirrors, mirror.WithLogger(logger.With("component", "mirror")))
	gate := abuse.NewGate(store, opts.Limits, abuse.WithLogger(logger.With("component", "abuse")))

	logins := abuse.NewLoginLimiter(store, opts.Login, abuse.WithLoginLogger(logger.With("component", "login")))

	return &API{
		db:        gdb,
		posts:     service.NewPostService(gdb, mirrors, inv, logger.With("component", "posts")),
		contacts:  service.NewContactService(gdb, gate, logger.With("component", "contact")),
		home:      service.NewHomeService(gdb, inv),
		settings:  service.NewSettingsService(gdb, inv),
		analytics: service.NewAnalyticsService(gdb),
		logins:    logins,
		logger:    logger,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}

// Posts exposes the post service for command line tasks.
func (a *API) Posts() *service.PostService {
	return a.posts
}
