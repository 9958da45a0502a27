// Conductor server — admits per-user WebSocket sessions and executes
// dependency-ordered agent pipelines, streaming run events to clients.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeready-toolchain/conductor/pkg/api"
	"github.com/codeready-toolchain/conductor/pkg/cleanup"
	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/metrics"
	"github.com/codeready-toolchain/conductor/pkg/pipeline"
	"github.com/codeready-toolchain/conductor/pkg/registry"
	"github.com/codeready-toolchain/conductor/pkg/session"
	"github.com/codeready-toolchain/conductor/pkg/thread"
	"github.com/codeready-toolchain/conductor/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting conductor",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Core components
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	connRegistry := registry.New(cfg.Limits.MaxConnectionsPerUser)
	threadStore := thread.NewStore()

	// Capabilities are stubs until real agents are plugged in. The pipeline
	// mechanics (planning, ordering, timeouts, event streaming) are fully live.
	capabilities := pipeline.NewStubRegistry()
	engine := pipeline.NewEngine(capabilities, cfg.Pipeline)

	sessionManager := session.NewManager(cfg, connRegistry, threadStore, engine, m)
	slog.Info("Session manager initialized",
		"max_connections_per_user", cfg.Limits.MaxConnectionsPerUser,
		"step_timeout", cfg.Pipeline.StepTimeout,
		"run_timeout", cfg.Pipeline.RunTimeout)

	// 3. Start background cleanup (zombie sweep + thread retention)
	cleanupService := cleanup.NewService(cfg.Cleanup, connRegistry, threadStore, m)
	cleanupService.Start(ctx)

	// 4. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, sessionManager, connRegistry, promRegistry)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Conductor started successfully")

	// 5. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown: stop the sweeper, then drain sessions and stop
	// the listener within the shutdown budget.
	cleanupService.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Give in-flight run goroutines a moment to observe cancellation before
	// the process exits.
	time.Sleep(100 * time.Millisecond)
	slog.Info("Shutdown complete")
}
