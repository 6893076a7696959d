// Command train builds a model end to end: it loads and preprocesses the
// configured data source, splits it in time, optionally searches
// hyperparameters, evaluates on the test window and stores the bundle.
//
// Usage:
//
//	go run ./cmd/train -config kestrel.yaml -algorithm gradient_boosting -hpo
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $KESTREL_CONFIG)")
	algorithm := flag.String("algorithm", "", "algorithm to train (overrides pipeline.algorithm)")
	source := flag.String("source", "", "data source: synthetic or local (overrides pipeline.data_source)")
	hpo := flag.Bool("hpo", false, "search hyperparameters before the final fit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(cfg.Logging))

	if *algorithm != "" {
		cfg.Pipeline.Algorithm = *algorithm
	}
	if *source != "" {
		cfg.Pipeline.DataSource = *source
	}
	if *hpo {
		cfg.Pipeline.DoHPO = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, "train")
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	err = run(ctx, cfg)
	if serr := shutdownTracing(context.Background()); serr != nil {
		slog.Warn("failed to flush traces", "error", serr)
	}
	if err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *domain.Config) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()

	store, err := artifact.New(cfg.Artifacts, repo)
	if err != nil {
		return err
	}

	estimator, err := pipeline.New(cfg.Pipeline,
		pipeline.WithCache(cacheImpl, cfg.Cache.EntryTTL),
		pipeline.WithRepository(repo),
		pipeline.WithArtifactStore(store),
	)
	if err != nil {
		return err
	}

	slog.Info("training started",
		"algorithm", cfg.Pipeline.Algorithm,
		"data_source", cfg.Pipeline.DataSource,
		"do_hpo", cfg.Pipeline.DoHPO,
		"artifacts", cfg.Artifacts.Store,
	)
	res, err := estimator.CreateModel(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(res.Run)
	if err != nil {
		return fmt.Errorf("failed to encode training run: %w", err)
	}
	if err := busImpl.Publish(ctx, decision.DefaultTenant, domain.TopicModelTrained, payload); err != nil {
		slog.Warn("failed to announce trained model", "run_id", res.Run.ID, "error", err)
	}

	printRun(res)
	return nil
}

func printRun(res *pipeline.Result) {
	run := res.Run
	fmt.Println()
	fmt.Printf("  Run:         %s\n", run.ID)
	fmt.Printf("  Algorithm:   %s\n", run.Algorithm)
	fmt.Printf("  Data source: %s (cache hit: %v)\n", run.DataSource, res.CacheHit)
	fmt.Printf("  Data hash:   %s\n", run.DataHash)
	fmt.Printf("  Rows:        %d train / %d test\n", run.TrainRows, run.TestRows)
	fmt.Printf("  Duration:    %dms\n", run.DurationMs)
	fmt.Println()
	fmt.Println("  Test scores:")
	for _, name := range slices.Sorted(maps.Keys(run.Scores)) {
		fmt.Printf("    %-30s %.4f\n", name, run.Scores[name])
	}
	fmt.Println()
}
