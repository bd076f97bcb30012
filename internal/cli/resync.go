package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// NewResyncCommand creates the resync command.
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Rewrite the mirror files of every post",
		Long: `Rewrite the front-matter and JSON mirror files of every stored post.

Failures on single posts are logged and listed in the report; the remaining
posts are still written.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.api.Posts().ResyncMirrors(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
