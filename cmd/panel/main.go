package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mosaictheory-jt/panel-chat/internal/api"
	"github.com/mosaictheory-jt/panel-chat/internal/config"
	"github.com/mosaictheory-jt/panel-chat/internal/metrics"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
	"github.com/mosaictheory-jt/panel-chat/internal/storage"
	"github.com/mosaictheory-jt/panel-chat/internal/stream"
)

var (
	dbPath     string
	cfgPath    string
	serverURL  string
	debug      bool
	jsonLogs   bool
	appConfig  *config.Config
	registry   = prometheus.NewRegistry()
	appMetrics = metrics.New(registry)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "panel",
	Short: "Ask a synthetic survey panel",
	Long: `panel puts a question to a panel of synthetic respondents drawn from a
survey population.

A question is broken down into categorical sub-questions, reviewed, then
answered by every panelist with every selected model. In debate mode the
panel argues over several rounds and an analysis closes the session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		var err error
		if cfgPath != "" {
			appConfig, err = config.LoadFrom(cfgPath)
		} else {
			appConfig, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if serverURL != "" {
			appConfig.Server.URL = serverURL
		}
		if dbPath != "" {
			appConfig.Storage.Path = dbPath
		}
		return appConfig.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Local history database (default: ~/.panel-chat/history.db)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ~/.panel-chat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Panel backend URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Log as JSON")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(revealCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(filtersCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging() {
	opts := &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}
	if debug {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func getStorage() (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(appConfig.StoragePath())
	if err != nil {
		return nil, err
	}

	if err := store.Initialize(); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

func getClient() *api.Client {
	return api.New(appConfig.Server.URL, appConfig.Server.RequestTimeout)
}

// app bundles what a command needs to drive sessions.
type app struct {
	client *api.Client
	store  *storage.SQLiteStorage
	ctrl   *session.Controller
}

// newApp wires the controller to the backend, the stream dialer and the
// local history. A history database that cannot be opened is skipped.
func newApp() *app {
	client := getClient()

	opts := session.Options{
		Backend:  client,
		Dialer:   stream.NewDialer(appConfig.Server.URL, appConfig.Server.RequestTimeout),
		Metrics:  appMetrics,
		Settings: appConfig.Settings(),
	}

	store, err := getStorage()
	if err != nil {
		slog.Warn("Local history unavailable", "path", appConfig.StoragePath(), "error", err)
	} else {
		opts.Archive = store
	}

	return &app{client: client, store: store, ctrl: session.NewController(opts)}
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}
