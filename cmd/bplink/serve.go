package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/bplink/internal/config"
	"github.com/srg/bplink/internal/httpapi"
	"github.com/srg/bplink/internal/observability"
	"github.com/srg/bplink/scanner"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST/WebSocket gateway",
	Long: `Run the HTTP gateway that exposes scanning and sessions to dashboards:

  GET  /v1/scan                   discover nearby devices
  GET  /v1/scan/ws                stream discovery events while one scan runs
  POST /v1/sessions/pair          pair with a monitor
  POST /v1/sessions/read-all      read all records with drift correction
  POST /v1/sessions/latest        read the newest record untouched
  POST /v1/sessions/latest-today  read the newest record rebased onto today
  GET  /v1/sessions/ws            session requests over one socket
  GET  /metrics                   Prometheus metrics

Settings come from defaults, an optional YAML file (--config) and BPLINK_*
environment variables, in that order.`,
	RunE: runServe,
}

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to YAML config file")
	serveCmd.Flags().Bool("verbose", false, "Enable verbose logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	runner, err := newSessionRunner(cfg.DeviceModel, cfg.ScanTimeout, logger)
	if err != nil {
		return err
	}

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	api := httpapi.New(cfg, runner, s, metrics, logger)

	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.BindAddr).Info("HTTP gateway listening")
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s (model %s)\n", cfg.BindAddr, cfg.DeviceModel)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
