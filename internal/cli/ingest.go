package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Jita81/SelfImprovingRAG/internal/api"
	"github.com/Jita81/SelfImprovingRAG/internal/engine"
)

// NewIngestCmd creates the 'ingest' command loading JSON-lines records.
func NewIngestCmd(opts *RootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Record validation outcomes from a JSON-lines file",
		Long: `Each line is one validation record:
  {"is_valid": false, "issues": ["Missing examples"], "confidence_score": 0.4, "timestamp": "2024-05-01T10:00:00Z"}
Reads standard input when no file or "-" is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			app, err := NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := ingestLines(cmd.Context(), app.Pipeline, in, cmd.OutOrStdout(), jsonOutput)
			if err != nil {
				return err
			}
			if !jsonOutput {
				summary.print(cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Print one JSON result per record")
	return cmd
}

type ingestSummary struct {
	Ingested  int
	Failed    int
	Actions   map[string]int
	Persisted bool
}

func (s ingestSummary) print(w io.Writer) {
	fmt.Fprintf(w, "Ingested %d records (%d failed validation)\n", s.Ingested, s.Failed)
	for _, strategy := range slices.Sorted(maps.Keys(s.Actions)) {
		fmt.Fprintf(w, "  %-20s %d\n", strategy, s.Actions[strategy])
	}
	if !s.Persisted {
		fmt.Fprintln(w, "warning: history could not be persisted")
	}
}

func ingestLines(ctx context.Context, pipeline *engine.Pipeline, in io.Reader, out io.Writer, jsonOutput bool) (ingestSummary, error) {
	summary := ingestSummary{Actions: map[string]int{}, Persisted: true}
	enc := json.NewEncoder(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var req api.RecordValidationRequest
		if err := api.DecodeJSON([]byte(text), &req); err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}
		record, err := req.ToRecord()
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}

		result, err := pipeline.Ingest(ctx, record)
		if err != nil {
			summary.Persisted = false
		}
		summary.Ingested++
		if !record.IsValid {
			summary.Failed++
		}
		if result.Action != nil {
			summary.Actions[string(result.Action.Strategy)]++
		}
		if jsonOutput {
			if err := enc.Encode(result); err != nil {
				return summary, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read input: %w", err)
	}
	return summary, nil
}
