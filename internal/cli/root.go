// Package cli provides the command-line interface for batchwatch.
package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/raphaelgruber/batchwatch/internal/client"
	"github.com/raphaelgruber/batchwatch/internal/config"
	"github.com/raphaelgruber/batchwatch/internal/metrics"
	"github.com/raphaelgruber/batchwatch/internal/poller"
	"github.com/raphaelgruber/batchwatch/internal/uploader"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	serverURL  string
	configPath string

	// Global config, logger and API client
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	apiClient *client.Client
	collector *metrics.Collector
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "batchwatch",
	Short: "Upload file batches and watch them being processed",
	Long: `Batchwatch submits a batch of files to a processing server and follows
the server-side job until every file has been handled.

Progress is polled once per interval. Stopping the watch (q, Ctrl+C) is local:
the server keeps processing and 'batchwatch status' can pick the session up
again.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		// Load config
		if configPath != "" {
			var err error
			cfg, err = config.LoadFile(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Load()
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		// The interactive view owns the terminal, so logs only go to the file.
		console := verbose && !(cmd == uploadCmd && interactive())
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, console)
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		apiClient = client.New(cfg.ServerURL,
			client.WithHTTPClient(&http.Client{Timeout: cfg.SubmitTimeout}),
			client.WithLogger(logger),
			client.WithMetrics(collector),
		)
		logger.Debug("configured", "server", apiClient.BaseURL(), "poll_interval", cfg.PollInterval)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newController wires a controller to the configured client.
func newController() *uploader.Controller {
	p := poller.New(apiClient,
		poller.WithInterval(cfg.PollInterval),
		poller.WithRequestTimeout(cfg.RequestTimeout),
		poller.WithMaxPolls(cfg.MaxPolls),
		poller.WithLogger(logger),
	)
	return uploader.New(apiClient, p, logger)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "processing server base URL (default $BATCHWATCH_SERVER_URL)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	// Add subcommands
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
