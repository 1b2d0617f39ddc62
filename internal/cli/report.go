package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reportSections = []string{"all", "summary", "categories", "time_series", "trend", "archive", "clusters", "patterns", "recommendations", "metrics"}

// NewReportCmd creates the 'report' command printing the analytical report.
func NewReportCmd(opts *RootOptions) *cobra.Command {
	var section string
	var compact bool
	var period time.Duration

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print trend, pattern, recommendation and metric analysis of the stored history",
		Example: `  validation-engine report
  validation-engine report --section trend
  validation-engine report --section time_series --period 1h
  validation-engine report --compact | jq .metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			app, err := NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Pipeline.Report(cmd.Context())
			if err != nil {
				return err
			}
			if period > 0 {
				report.TimeSeries = app.Pipeline.TimeSeries(period)
			}

			var out any
			switch section {
			case "", "all":
				out = report
			case "summary":
				out = report.Summary
			case "categories":
				out = report.Categories
			case "time_series":
				out = report.TimeSeries
			case "trend":
				out = report.Trend
			case "archive":
				out = report.Archive
			case "clusters":
				out = map[string]any{"clusters": report.Clusters, "mined_patterns": report.MinedPatterns}
			case "patterns":
				out = report.Patterns
			case "recommendations":
				out = report.Recommendations
			case "metrics":
				out = map[string]any{"metrics": report.Metrics, "alerts": report.Alerts}
			default:
				return fmt.Errorf("unknown section %q (want one of %v)", section, reportSections)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&section, "section", "s", "all", "Report section to print")
	cmd.Flags().BoolVar(&compact, "compact", false, "Print compact JSON")
	cmd.Flags().DurationVar(&period, "period", 0, "Time series bucket length (default from config)")
	return cmd
}
