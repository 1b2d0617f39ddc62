// Command validation-engine records validation outcomes, detects recurring
// failure patterns and selects recovery strategies.
//
// Usage:
//
//	validation-engine serve             run the gRPC engine and metrics endpoint
//	validation-engine ingest [file]     record JSON-lines validation outcomes
//	validation-engine report            print the analytical report as JSON
//	validation-engine related <issue>   list stored issues similar to one
//	validation-engine export            write stored records as JSON lines
//	validation-engine clear             delete the stored history
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jita81/SelfImprovingRAG/internal/cli"
)

// Set via ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var opts cli.RootOptions

	rootCmd := &cobra.Command{
		Use:   "validation-engine",
		Short: "Validation telemetry, pattern detection and recovery engine",
		Long: `validation-engine keeps a bounded history of content validation outcomes,
mines it for trends and recurring failure patterns, and selects a recovery
strategy for every failed validation.`,
		Version:       fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(rootCmd)

	rootCmd.AddCommand(cli.NewServeCmd(&opts))
	rootCmd.AddCommand(cli.NewIngestCmd(&opts))
	rootCmd.AddCommand(cli.NewReportCmd(&opts))
	rootCmd.AddCommand(cli.NewRelatedCmd(&opts))
	rootCmd.AddCommand(cli.NewExportCmd(&opts))
	rootCmd.AddCommand(cli.NewClearCmd(&opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
