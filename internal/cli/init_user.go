package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/folio/internal/db"
	"github.com/spf13/cobra"
	gormlogger "gorm.io/gorm/logger"
)

// InitUserOptions holds flags for the init-user command.
type InitUserOptions struct {
	*RootOptions
	Username string
	Password string
}

// NewInitUserCommand creates the init-user command.
func NewInitUserCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitUserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "init-user",
		Short:         "Create the admin account if it does not exist",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			username := firstNonEmpty(opts.Username, cfg.AdminUserName)
			password := firstNonEmpty(opts.Password, cfg.AdminPassword)
			if username == "" || password == "" {
				return errors.New("username and password are required (flags or ADMIN_USER_NAME / ADMIN_PASSWORD)")
			}

			gdb, err := db.Open(cfg.DatabasePath, gormlogger.Warn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := db.EnsureUser(gdb, username, password); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin user %q is ready\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Username, "username", "", "admin user name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "admin password")

	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
