// Kestrel - Fraud detection models trained on time-aware features.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $KESTREL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"environment", cfg.Environment,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"artifacts", cfg.Artifacts.Store,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	estimator, err := loadEstimator(ctx, cfg, repo)
	if err != nil {
		slog.Error("failed to load model", "error", err)
		os.Exit(1)
	}
	slog.Info("model loaded",
		"algorithm", estimator.Algorithm().Kind(),
		"features", len(estimator.FeatureSchema().Names()),
	)

	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.LoadRules(cfg.Serving.BlockRules); err != nil {
		slog.Error("failed to load block rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	processor := decision.NewProcessor(estimator, decision.WithRules(engine), decision.WithBus(busImpl))

	var asyncWorker *worker.Worker
	if cfg.Serving.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, processor)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Serving.TenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Serving.TenantIDs))
		}
	}

	info := api.ModelInfo{
		Environment: string(cfg.Environment),
		Algorithm:   string(estimator.Algorithm().Kind()),
		Features:    estimator.FeatureSchema().Names(),
		Params:      estimator.Algorithm().Params(),
	}
	handler := api.NewHandler(processor, engine, repo, cacheImpl, busImpl, info, Version)
	srv := api.NewServer(cfg.Server, cfg.Serving, handler)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, info, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

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
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadEstimator restores the trained bundle in prod and serves the fake
// estimator in test.
func loadEstimator(ctx context.Context, cfg *domain.Config, repo domain.Repository) (*pipeline.Estimator, error) {
	if cfg.Environment == domain.EnvTest {
		slog.Warn("test environment: serving the fake estimator")
		return pipeline.Fake(), nil
	}

	store, err := artifact.New(cfg.Artifacts, repo)
	if err != nil {
		return nil, err
	}
	bundle, err := store.Load(ctx, cfg.Pipeline.Algorithm)
	if err != nil {
		if artifact.IsNotFound(err) {
			return nil, fmt.Errorf("no trained bundle for %s, run cmd/train first: %w", cfg.Pipeline.Algorithm, err)
		}
		return nil, err
	}
	return pipeline.FromBundle(bundle), nil
}

func printBanner(cfg *domain.Config, info api.ModelInfo, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  fraud scoring service")
	fmt.Println()
	fmt.Printf("  Version:     %s\n", version)
	fmt.Printf("  Tier:        %s\n", cfg.Tier)
	fmt.Printf("  Environment: %s\n", cfg.Environment)
	fmt.Printf("  Model:       %s (%d features)\n", info.Algorithm, len(info.Features))
	fmt.Printf("  Server:      http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /model/v0/prediction/{transaction_id} - Score a transaction")
	fmt.Println("    GET  /model/v0/info                        - Served model")
	fmt.Println("    GET  /model/v0/runs                        - Training runs")
	fmt.Println("    GET  /model/v0/rules                       - Block rules")
	fmt.Println("    POST /model/v0/rules                       - Add a block rule")
	fmt.Println("    GET  /health                               - Health check")
	fmt.Println("    GET  /metrics                              - Prometheus metrics")
	fmt.Println()
}
