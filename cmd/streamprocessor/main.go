// Package main provides the CLI entry point for the stream processor.
//
// The stream processor consumes OTLP spans and logs off a RabbitMQ stream
// queue, reconstructs traces into tumbling windows, scores them for
// anomalies, and emits derived alerts, metrics, and forensic traces to the
// backend over HTTP.
//
// # Basic Usage
//
// Start the processor:
//
//	streamprocessor run
//
// # Environment Variables
//
//   - BROKER_HOST, BROKER_PORT, BROKER_USER, BROKER_PASSWORD, BROKER_QUEUE
//   - BACKEND_URL
//   - LOG_LEVEL
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/telemetry-pipeline/internal/broker"
	"github.com/haasonsaas/telemetry-pipeline/internal/config"
	"github.com/haasonsaas/telemetry-pipeline/internal/emitter"
	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
	"github.com/haasonsaas/telemetry-pipeline/internal/pipeline"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
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
		Use:          "streamprocessor",
		Short:        "Stream processor for the telemetry anomaly pipeline",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the broker stream and run the reconstruction pipeline until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreamProcessor(cmd.Context())
		},
	}
}

func runStreamProcessor(ctx context.Context) error {
	cfg := config.LoadStreamProcessorConfig()

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "telemetry-stream-processor",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer shutdownTracer(context.Background())

	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: "json",
	})
	obsLogger.Info(ctx, "starting stream processor",
		"version", version,
		"commit", commit,
		"broker_host", cfg.Broker.Host,
		"broker_queue", cfg.Broker.Queue,
		"backend_url", cfg.BackendURL,
	)

	source := broker.New(broker.Config{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		User:     cfg.Broker.User,
		Password: cfg.Broker.Password,
		Queue:    cfg.Broker.Queue,
	}, slog.Default())
	defer source.Close()

	emit := emitter.New(cfg.BackendURL, slog.Default(), emitter.WithMetrics(metrics), emitter.WithTracer(tracer))

	p := pipeline.New(source, emit, slog.Default(), pipeline.WithMetrics(metrics), pipeline.WithTracer(tracer))

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := p.Run(ctx)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("pipeline stopped: %w", err)
	}
	obsLogger.Info(ctx, "stream processor stopped gracefully")
	return nil
}
