package cli

import (
	"github.com/spf13/cobra"

	"verdictd/internal/app"
)

var backfillDryRun bool

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Copy the local verdict log into the PostgreSQL mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Backfill(cmd.Context(), app.BackfillOptions{DryRun: backfillDryRun})
	},
}

func init() {
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Report what would be written without touching the mirror")
}
