package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	retrieveK    int
	retrieveJSON bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Show the clauses most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRetrieve,
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "top-k", "k", 0, "number of clauses (default from config)")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Service.Retrieve(ctx, strings.Join(args, " "), topK(cmd, retrieveK, app.Config))
	if err != nil {
		return err
	}
	if retrieveJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printRetrieved(cmd, res)
	return nil
}
