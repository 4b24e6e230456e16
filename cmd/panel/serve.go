package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mosaictheory-jt/panel-chat/web/handlers"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("port") {
			servePort = appConfig.Dashboard.Port
		}

		a := newApp()
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), appConfig.Server.RequestTimeout)
		if err := a.ctrl.RefreshHistory(ctx); err != nil {
			slog.Warn("Backend unreachable, history is empty", "url", appConfig.Server.URL, "error", err)
		}
		cancel()

		opts := handlers.Options{
			Directory: a.client,
			Gatherer:  registry,
			Defaults:  appConfig.Defaults,
		}
		if a.store != nil {
			opts.Store = a.store
		}
		h := handlers.New(a.ctrl, opts)

		fmt.Printf("\nStarting panel dashboard on http://localhost:%d\n\n", servePort)
		fmt.Println("Available endpoints:")
		fmt.Printf("  GET  http://localhost:%d/api/state         - Current session state\n", servePort)
		fmt.Printf("  GET  http://localhost:%d/api/state/stream  - Live updates (SSE)\n", servePort)
		fmt.Printf("  POST http://localhost:%d/api/sessions      - Ask a question\n", servePort)
		fmt.Printf("  GET  http://localhost:%d/metrics           - Prometheus metrics\n", servePort)
		fmt.Println("\nPress Ctrl+C to stop the server")

		return startWebServer(h.Router(), servePort)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8183, "Dashboard port")
}

func startWebServer(handler http.Handler, port int) error {
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			server.Close()
		}
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
