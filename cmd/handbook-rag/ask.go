package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"handbookrag/internal/domain"
)

var (
	askK           int
	askShowContext bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the handbook",
	Long: `Retrieves the clauses most similar to the question and asks the
language model to answer using only those clauses.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askK, "top-k", "k", 0, "number of clauses used as context (default from config)")
	askCmd.Flags().BoolVar(&askShowContext, "show-context", false, "print the retrieved clauses")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	resp, err := app.Service.Ask(ctx, strings.Join(args, " "), topK(cmd, askK, app.Config))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
	if askShowContext {
		fmt.Fprintln(cmd.OutOrStdout())
		printRetrieved(cmd, resp.Retrieved)
	}
	return nil
}

const previewRunes = 100

func printRetrieved(cmd *cobra.Command, res domain.RetrievalResult) {
	if len(res) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No clauses retrieved.")
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Retrieved clauses:")
	for i, r := range res {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (similarity %.4f)\n", i+1, r.Chunk.Metadata.ClauseID, r.Score)
		fmt.Fprintf(cmd.OutOrStdout(), "      %s\n", preview(r.Chunk.Text))
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "..."
}
