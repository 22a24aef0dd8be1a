package main

import (
	"fmt"
	"errors"

	"github.com/spf13/cobra"

	"handbookrag/internal/bootstrap"
	"handbookrag/internal/document"
)

var structureOut string

var structureCmd = &cobra.Command{
	Use:   "structure [input]",
	Short: "Convert a handbook into a clause JSON file",
	Long: `Reads a .txt, .md or .pdf handbook, splits it at clause headings and
writes the clauses as a JSON array of {"<clause id>": "<body>"} objects.
Without an input the configured document is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStructure,
}

func init() {
	structureCmd.Flags().StringVarP(&structureOut, "output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(structureCmd)
}

func runStructure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	input := cfg.Document.Path
	if len(args) == 1 {
		input = args[0]
	}
	if input == "" {
		return errors.New("no input document")
	}

	text, err := document.LoadText(input)
	if err != nil {
		return err
	}
	st, err := bootstrap.NewStructurer(cfg.Structurer)
	if err != nil {
		return err
	}
	records, err := st.Structure(text)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		cmd.PrintErrf("warning: no clause headings found in %s\n", input)
	}

	if structureOut == "" {
		return document.WriteClauses(cmd.OutOrStdout(), records)
	}
	if err := document.WriteClausesFile(structureOut, records); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d clauses to %s\n", len(records), structureOut)
	return nil
}
