package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/folio/internal/cache"
	"github.com/folio/internal/db"
	"github.com/folio/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const (
	memorySweepInterval   = time.Minute
	databasePurgeInterval = 5 * time.Minute
	shutdownTimeout       = 10 * time.Second
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Run the HTTP server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 如果配置了管理员账号则确保其存在
	if err := db.EnsureUser(a.db, cfg.AdminUserName, cfg.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch store := a.store.(type) {
	case *cache.Memory:
		go store.Run(ctx, memorySweepInterval)
	case *cache.DB:
		go store.Run(ctx, databasePurgeInterval)
	}

	engine, err := router.SetupRouter(cfg.SessionSecret, cfg.TrustedProxies, a.api)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "cache", cfg.CacheBackend, "content_dir", cfg.ContentDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
