package cli

import (
	"evacom/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the verification service",
		Long: `Runs the Telegram bot, the session reaper and the HTTP surface
(/healthz, /readyz, /metrics and the optional service console).
All settings come from the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context())
		},
	}
}
