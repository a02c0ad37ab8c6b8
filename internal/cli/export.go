package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"verdictd/internal/app"
	"verdictd/internal/model"
)

var (
	exportWindow    [2]string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportVerdict   string
	exportLocal     bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export verdict history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			LocalOnly: exportLocal,
		}

		from, err := parseTimestamp("--from", exportWindow[0])
		if err != nil {
			return err
		}
		to, err := parseTimestamp("--to", exportWindow[1])
		if err != nil {
			return err
		}
		opts.From, opts.To = from, to

		if exportVerdict != "" {
			v := model.Verdict(strings.ToUpper(exportVerdict))
			switch v {
			case model.VerdictTrue, model.VerdictFalse, model.VerdictUnverifiable:
				opts.Verdict = v
			default:
				return fmt.Errorf("invalid --verdict %q (want TRUE, FALSE or UNVERIFIABLE)", exportVerdict)
			}
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func parseTimestamp(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return &ts, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportWindow[0], "from", "", "Start timestamp (RFC3339, inclusive; default 30 days before --to)")
	exportCmd.Flags().StringVar(&exportWindow[1], "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write a confidence-over-time PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum verdicts to export (defaults to config)")
	exportCmd.Flags().StringVar(&exportVerdict, "verdict", "", "Only export this verdict")
	exportCmd.Flags().BoolVar(&exportLocal, "local", false, "Read the local log even when a mirror is configured")
}
