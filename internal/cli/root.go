// Package cli wires the folio commands: the HTTP server and its maintenance tasks.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/folio/internal/cache"
	"github.com/folio/internal/config"
	"github.com/folio/internal/db"
	"github.com/folio/internal/handler"
	"github.com/folio/internal/mirror"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "folio",
		Short:         "folio - personal site content service",
		Long:          "Serves posts, the home document and the contact form, and keeps the post mirror files in sync.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $FOLIO_CONFIG)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewInitUserCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (config.AppConfig, error) {
	if o.ConfigPath != "" {
		return config.LoadFile(o.ConfigPath)
	}
	return config.Load()
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// app is the set of long-lived resources a command works with.
type app struct {
	db    *gorm.DB
	store cache.Store
	api   *handler.API
}

func openApp(cfg config.AppConfig, logger *slog.Logger) (*app, error) {
	gdb, err := db.Open(cfg.DatabasePath, gormlogger.Warn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{db: gdb}
	a.store, err = cache.New(cfg.CacheBackend, gdb)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("cache backend %q: %w", cfg.CacheBackend, err)
	}

	a.api = handler.NewAPI(gdb, handler.Options{
		Mirrors:  mirror.Config{ContentDir: cfg.ContentDir, JSONDir: cfg.JSONDir},
		Cache:    a.store,
		CacheTTL: cfg.CacheTTL,
		Limits:   cfg.Contact,
		Login:    cfg.Login,
		Logger:   logger,
	})
	return a, nil
}

func (a *app) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
