package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"handbookrag/internal/bootstrap"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the clause index for the configured handbook",
	Long: `Structures the configured handbook, embeds every clause and writes the
index to the configured vector store. A persisted index built from the
same document and model is reused.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.LoadDocument(ctx)
	if err != nil {
		return err
	}
	state := "built"
	if report.Reused {
		state = "reused"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Index %s: %d of %d clauses from %s\n", state, report.Indexed, report.Clauses, report.Document)
	fmt.Fprintf(cmd.OutOrStdout(), "  store:   %s\n", cfg.VectorStore.Type)
	fmt.Fprintf(cmd.OutOrStdout(), "  model:   %s (%d dimensions)\n", report.Manifest.Space.Model, report.Manifest.Space.Dimension)
	fmt.Fprintf(cmd.OutOrStdout(), "  version: %s\n", report.Manifest.Version)
	fmt.Fprintf(cmd.OutOrStdout(), "  took:    %s\n", report.Took.Round(time.Millisecond))
	for _, f := range report.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "  skipped: %v\n", f)
	}
	return nil
}
