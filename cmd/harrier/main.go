// Harrier - Fraud rule evaluation for transaction streams.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/harrierhq/harrier/internal/api"
	"github.com/harrierhq/harrier/internal/bus"
	"github.com/harrierhq/harrier/internal/cache"
	"github.com/harrierhq/harrier/internal/devices"
	"github.com/harrierhq/harrier/internal/domain"
	"github.com/harrierhq/harrier/internal/engine"
	"github.com/harrierhq/harrier/internal/notify"
	"github.com/harrierhq/harrier/internal/repository"
	"github.com/harrierhq/harrier/internal/rules"
	"github.com/harrierhq/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_MODE") == "cluster" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}
	applyEnv(cfg)

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"evaluation", cfg.EvaluationMode,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Device Registry
	registry := devices.NewRegistry(repo)

	// Initialize Notification Sink
	sink := notify.NewRepositorySink(repo)

	// Build the rule set: builtins plus any custom expression rules
	ruleSet, err := rules.FromConfig(cfg.Rules)
	if err != nil {
		slog.Error("failed to compile custom rules", "error", err)
		os.Exit(1)
	}

	// Initialize Evaluation Engine
	eng := engine.New(repo, sink, cacheImpl, ruleSet, cfg.Rules)
	slog.Info("evaluation engine initialized", "rules_count", eng.RulesCount())

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.EvaluationMode == domain.ModeAsync {
		asyncWorker = worker.New(busImpl, eng)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
		slog.Info("async worker started")
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, registry, eng, cfg.EvaluationMode, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// applyEnv overrides config fields from HARRIER_* environment variables.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("HARRIER_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("HARRIER_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_PG_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("HARRIER_PG_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("HARRIER_CACHE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("HARRIER_BUS"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("HARRIER_EVALUATION"); v != "" {
		cfg.EvaluationMode = domain.EvaluationMode(v)
	}
	if v := os.Getenv("HARRIER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                     ║")
	fmt.Println("  ║      Fraud Rule Evaluation Engine         ║")
	fmt.Println("  ║      Every transaction, every rule.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:     %s\n", version)
	fmt.Printf("  Evaluation:  %s\n", cfg.EvaluationMode)
	fmt.Printf("  Server:      http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST  /transactions               - Record and evaluate a transaction")
	fmt.Println("    POST  /transactions/{id}/evaluate - Re-run rules for a transaction")
	fmt.Println("    GET   /transactions               - List transactions")
	fmt.Println("    GET   /alerts                     - List alerts, newest first")
	fmt.Println("    PATCH /alerts/{id}                - Update alert status")
	fmt.Println("    POST  /devices/resolve            - Register or touch a device")
	fmt.Println("    POST  /customers                  - Create a customer")
	fmt.Println("    POST  /accounts                   - Create an account")
	fmt.Println("    POST  /merchants                  - Create a merchant")
	fmt.Println("    GET   /health                     - Health check")
	fmt.Println()
}
