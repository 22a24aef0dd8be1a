package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"handbookrag/internal/bootstrap"
	"handbookrag/internal/config"
	"handbookrag/internal/logger"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "handbook-rag",
	Short: "Answer questions about an employee handbook",
	Long: `Splits an employee handbook into numbered clauses, indexes them by
embedding similarity and answers questions from the most relevant clauses
with a language model.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
		logger.SetOutput(cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML or TOML; default ./config.yaml or ~/.config/handbook-rag/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print pipeline diagnostics")
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Log.Verbose {
		logger.SetVerbose(true)
	}
	return cfg, nil
}

// openApp wires the pipeline and ingests the configured handbook.
func openApp(ctx context.Context, withGenerator bool) (*bootstrap.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{WithGenerator: withGenerator})
	if err != nil {
		return nil, err
	}
	if _, err := app.LoadDocument(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

// topK returns the --top-k value when given, else the configured default.
func topK(cmd *cobra.Command, k int, cfg *config.AppConfig) int {
	if cmd.Flags().Changed("top-k") {
		return k
	}
	return cfg.Answer.TopK
}
