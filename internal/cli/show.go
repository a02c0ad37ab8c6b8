package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"verdictd/internal/app"
)

var (
	showLimit   int
	showMirror  bool
	showOnchain bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Mirror:  showMirror,
			Onchain: showOnchain,
		}

		return getApp().Show(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of verdicts to display")
	showCmd.Flags().BoolVar(&showMirror, "mirror", false, "Read from the PostgreSQL mirror instead of the local log")
	showCmd.Flags().BoolVar(&showOnchain, "onchain", false, "Look up each verdict digest on the ledger contract")
}
