package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"handbookrag/internal/tui"
)

var chatK int

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long:  `Opens an interactive session. Type quit, exit, q or 退出 to leave.`,
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().IntVarP(&chatK, "top-k", "k", 0, "number of clauses used as context (default from config)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	m := tui.New(ctx, app.Service, app.Service.Summary(), topK(cmd, chatK, app.Config))
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
