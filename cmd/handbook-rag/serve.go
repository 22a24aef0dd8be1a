package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"handbookrag/internal/logger"
	transporthttp "handbookrag/internal/transport/http"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question answering HTTP API",
	Long: `Starts an HTTP server with:
  GET  /health
  POST /api/ask       {"question": "...", "top_k": 3, "with_context": false}
  POST /api/retrieve  {"query": "...", "top_k": 3}
  POST /api/rebuild   reloads the handbook and swaps in the new index`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := app.Config.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	router := transporthttp.NewRouter(app.Service, transporthttp.RouterConfig{
		GinMode: app.Config.Server.GinMode,
		TopK:    app.Config.Answer.TopK,
		Rebuild: app.LoadDocument,
		Started: app.StartedAt,
	})
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
