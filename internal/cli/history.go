package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewClearCmd creates the 'clear' command emptying the stored history.
func NewClearCmd(opts *RootOptions) *cobra.Command {
	var includeArchive bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the active validation history",
		Example: `  validation-engine clear
  validation-engine clear --archive`,
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

			if err := app.Pipeline.Clear(cmd.Context(), includeArchive); err != nil {
				return err
			}
			active, archived := app.Pipeline.Store().Len()
			fmt.Fprintf(cmd.OutOrStdout(), "History cleared (%d active, %d archived remain)\n", active, archived)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeArchive, "archive", false, "Also delete the archive")
	return cmd
}

// NewExportCmd creates the 'export' command writing records as JSON lines.
func NewExportCmd(opts *RootOptions) *cobra.Command {
	var archive bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored validation records as JSON lines",
		Long: `Writes one record per line in the format accepted by 'ingest', oldest first.
The active history is written by default; --archive writes the archive instead.`,
		Example: `  validation-engine export > active.jsonl
  validation-engine export --archive | validation-engine ingest --config other.yaml`,
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

			records := app.Pipeline.Store().Snapshot()
			if archive {
				records = app.Pipeline.Store().Archived()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&archive, "archive", false, "Export the archive instead of the active history")
	return cmd
}

// NewRelatedCmd creates the 'related' command listing similar issues.
func NewRelatedCmd(opts *RootOptions) *cobra.Command {
	var minSimilarity float64

	cmd := &cobra.Command{
		Use:     "related <issue>",
		Short:   "List stored issues similar to the given one",
		Example: `  validation-engine related "Missing examples" --min-similarity 0.5`,
		Args:    cobra.ExactArgs(1),
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

			related := app.Pipeline.RelatedIssues(args[0], minSimilarity)
			if len(related) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No related issues found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIMILARITY\tOCCURRENCES\tISSUE")
			for _, r := range related {
				fmt.Fprintf(w, "%.2f\t%d\t%s\n", r.Similarity, r.Occurrences, r.Issue)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Similarity floor in [0,1] (default 0.7)")
	return cmd
}
