package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcourtman/zbxreport/internal/api"
	"github.com/rcourtman/zbxreport/internal/config"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "zbxreport",
	Short:   "zbxreport - PDF chart reports for Zabbix",
	Long:    `zbxreport renders Zabbix item graphs for a selection of hosts and a time range into a single PDF document`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP report service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "zbxreport %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogging applies the configured logging settings.
func initLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "zbxreport",
		FilePath:  cfg.LogFile,
	})
}

func runServer() error {
	// Baseline logger for early startup messages
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "zbxreport",
	})
	defer logging.Shutdown()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg)

	log.Info().
		Str("version", Version).
		Str("frontend", cfg.ZabbixURL).
		Str("engine", cfg.PDFEngine).
		Msg("Starting zbxreport server")

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	router, err := api.NewRouter(cfg, api.Dependencies{
		NewAPI:      api.NewAPIFactory(cfg, p.tracer),
		Generator:   p.generator,
		WebSessions: p.broker,
	})
	if err != nil {
		return err
	}
	defer router.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logAPIVersion(ctx, cfg, p.tracer)

	if cfg.MetricsPort > 0 {
		startMetricsServer(ctx, fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.MetricsPort))
	}

	// Report generation can run for minutes, so there is no write timeout
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.ListenHost).
			Int("port", cfg.ListenPort).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-sigChan:
		log.Info().Msg("Shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
	return nil
}

// logAPIVersion reports whether the API endpoint answers. The server starts
// either way; logins fail until it does.
func logAPIVersion(ctx context.Context, cfg *config.Config, tracer *logging.Tracer) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	version, err := api.FetchAPIVersion(ctx, cfg, tracer)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.ZabbixAPIURL).Msg("Zabbix API not reachable at startup")
		return
	}
	log.Info().Str("version", version).Str("url", cfg.ZabbixAPIURL).Msg("Zabbix API reachable")
}
