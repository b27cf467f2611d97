// Package main provides the CLI entry point for the telemetry backend.
//
// The backend ingests alerts, metrics, and forensic traces posted by the
// stream processor, persists them to SQLite, fans them out to connected
// dashboard clients over WebSocket, and serves root-cause analysis on
// demand via the Gemini API.
//
// # Basic Usage
//
// Start the backend:
//
//	backend serve
//
// # Environment Variables
//
//   - LISTEN_ADDR, SQLITE_PATH, GEMINI_API_KEY
//   - LOG_LEVEL
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/telemetry-pipeline/internal/api"
	"github.com/haasonsaas/telemetry-pipeline/internal/config"
	"github.com/haasonsaas/telemetry-pipeline/internal/hub"
	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
	"github.com/haasonsaas/telemetry-pipeline/internal/rca"
	"github.com/haasonsaas/telemetry-pipeline/internal/storage"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: observability.LogLevelFromString(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "backend",
		Short:        "Telemetry backend: ingestion API, dashboard WebSocket, and root-cause analysis",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.LoadBackendConfig()

	stores, err := storage.NewSQLiteStores(cfg.SQLitePath, storage.DefaultSQLiteConfig())
	if err != nil {
		return fmt.Errorf("failed to open sqlite store: %w", err)
	}
	defer stores.Close()

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "telemetry-backend",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer shutdownTracer(context.Background())

	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: "json",
	})

	wsHub := hub.New(slog.Default(), stores.Alerts, hub.WithMetrics(metrics))

	var analyzer *rca.Analyzer
	if cfg.GeminiAPIKey != "" {
		analyzer, err = rca.New(ctx, cfg.GeminiAPIKey, rca.WithMetrics(metrics))
		if err != nil {
			slog.Warn("rca disabled: failed to create gemini client", "error", err)
		}
	} else {
		slog.Warn("rca disabled: GEMINI_API_KEY not set")
	}

	handlerCfg := &api.Config{
		Alerts:     stores.Alerts,
		Metrics:    stores.Metrics,
		Traces:     stores.Traces,
		Hub:        wsHub,
		Logger:     slog.Default(),
		WSHandler:  wsHub,
		ObsMetrics: metrics,
		Tracer:     tracer,
	}
	if analyzer != nil {
		handlerCfg.RCA = analyzer
	}
	handler := api.NewHandler(handlerCfg)

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		obsLogger.Info(ctx, "backend listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	obsLogger.Info(ctx, "shutdown signal received, draining connections")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	obsLogger.Info(ctx, "backend stopped gracefully")
	return nil
}
