// Package cli provides the command-line interface for knowhow-tasks.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/knowhow-portal/internal/adapters"
	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/config"
	"github.com/raphaelgruber/knowhow-portal/internal/metrics"
	"github.com/raphaelgruber/knowhow-portal/internal/server"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// drainTimeout bounds how long the CLI waits for result side effects (document
// refresh, content streaming) after the last task finished.
const drainTimeout = 2 * time.Minute

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose     bool
	serverURL   string
	metricsAddr string
	showStats   bool

	// Global config and runtime, set up by PersistentPreRunE
	cfg         config.Config
	logger      *slog.Logger
	stderrLevel *slog.LevelVar
	closeLog    func() error
	gqlClient   *client.Client
	engine      *task.Engine
	collector   *metrics.Collector
	metricsSrv  *server.Server
	results     *resultLog
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "knowhow-tasks",
	Short: "Run and track long-running knowledge portal tasks",
	Long: `knowhow-tasks submits long-running work to a knowledge portal server and
follows it to completion: website crawls, document uploads, documents pasted
into a chat session, content generation and knowledge graph builds.

Progress is shown live in a terminal, or as an event log when output is
redirected.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		teardown()
		return nil
	},
}

// needsEngine reports whether cmd talks to the server.
func needsEngine(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "policies", "completion":
		return false
	}
	return true
}

func setup(cmd *cobra.Command, args []string) error {
	cfg = config.Load()
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	logger, stderrLevel, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)

	if !needsEngine(cmd) {
		return nil
	}

	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return err
	}

	collector = metrics.NewCollector()
	observers := metrics.Multi{collector}
	if cfg.MetricsAddr != "" {
		prom, err := metrics.NewPrometheus(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		observers = append(observers, prom)
		if err := serveMetrics(cfg.MetricsAddr); err != nil {
			return err
		}
	}

	gqlClient = client.New(cfg.ServerURL,
		client.WithTimeout(cfg.ClientTimeout),
		client.WithLogger(logger))

	results = &resultLog{}
	engine, err = task.New(
		adapters.All(gqlClient, cfg.SessionID, results.hooks(), logger),
		task.Options{
			Policies:    policies,
			Observer:    observers,
			Logger:      logger,
			EventBuffer: cfg.EventBuffer,
		})
	if err != nil {
		return fmt.Errorf("create task engine: %w", err)
	}
	return nil
}

func serveMetrics(addr string) error {
	metricsSrv = server.New(metrics.Handler(prometheus.DefaultGatherer), logger)
	return metricsSrv.Start(addr)
}

// teardown waits for pending side effects, prints their results and
// releases everything setup acquired.
func teardown() {
	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		engine.Shutdown(ctx)
		cancel()
		results.print(os.Stdout)
	}
	if showStats && collector != nil {
		printStats(os.Stdout, collector.Snapshot())
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(ctx)
		cancel()
	}
	if closeLog != nil {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "GraphQL endpoint (default $KNOWHOW_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print poll statistics before exiting")

	// Add subcommands
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(pasteCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(policiesCmd)
}
