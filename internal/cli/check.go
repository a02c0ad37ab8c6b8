package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"verdictd/internal/app"
)

var (
	checkObserved string
	checkClaimID  string
)

var checkCmd = &cobra.Command{
	Use:   "check <claim text>",
	Short: "Extract and verify a claim without proof, notification or persistence",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CheckOptions{
			Text:    strings.Join(args, " "),
			ClaimID: checkClaimID,
		}
		if checkObserved != "" {
			v, err := decimal.NewFromString(checkObserved)
			if err != nil {
				return fmt.Errorf("invalid --observed value: %w", err)
			}
			opts.Observed = &v
		}
		return getApp().Check(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkObserved, "observed", "", "Use this value instead of querying oracles")
	checkCmd.Flags().StringVar(&checkClaimID, "id", "", "Claim id bound into the verdict hash")
}
