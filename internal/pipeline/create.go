package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hashing"
	"github.com/opensource-finance/kestrel/internal/table"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// FeaturesNamespace scopes cached preprocessed tables.
const FeaturesNamespace = "features"

// Result is the outcome of CreateModel.
type Result struct {
	Run    *domain.TrainingRun
	Bundle *artifact.Bundle

	// CacheHit is true when preprocessing was served from the cache.
	CacheHit bool
}

// Preprocessed loads and preprocesses the source data. With a cache the
// result is stored under the hash of the source parameters.
func (e *Estimator) Preprocessed(ctx context.Context) (*table.Table, bool, error) {
	if e.source == nil {
		return nil, false, domain.Configurationf("estimator has no data source")
	}
	ctx, span := tracer.Start(ctx, "pipeline.preprocess")
	defer span.End()

	key := hashing.New().
		String("preprocessed").
		String(string(e.source.Kind())).
		Map(e.source.Params()).
		Sum()
	return cache.GetOrCompute(ctx, e.cache, cache.Entry{Namespace: FeaturesNamespace, Key: key, TTL: e.cacheTTL},
		func(ctx context.Context) (*table.Table, error) {
			raw, err := e.source.Load(ctx)
			if err != nil {
				return nil, err
			}
			return e.source.Preprocess(ctx, raw)
		})
}

// CreateModel runs the whole training flow: load, preprocess, hash, split,
// optimize and fit on train, evaluate on test, then bundle the fitted model
// with a sample of the test rows. The bundle and the run are persisted when
// a store and a repository are configured.
func (e *Estimator) CreateModel(ctx context.Context) (res *Result, err error) {
	if e.source == nil || e.evaluator == nil {
		return nil, domain.Configurationf("estimator was not built for training")
	}
	ctx, span := tracer.Start(ctx, "pipeline.create_model")
	defer span.End()

	started := time.Now()
	kind := string(e.algorithm.Kind())
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
			slog.Error("model creation failed", "algorithm", kind, "error", err)
		}
		telemetry.TrainingRunsTotal.WithLabelValues(kind, status).Inc()
	}()

	stage := time.Now()
	data, hit, err := e.Preprocessed(ctx)
	if err != nil {
		return nil, err
	}
	telemetry.ObserveStage("preprocess", stage, "rows", data.Len(), "cache_hit", hit)

	dataHash := e.evaluator.HashData(data)

	stage = time.Now()
	train, test, err := e.evaluator.Split(data)
	if err != nil {
		return nil, err
	}
	telemetry.ObserveStage("split", stage, "train_rows", train.Len(), "test_rows", test.Len())

	if err := e.OptimizeAndFit(ctx, train); err != nil {
		return nil, err
	}

	stage = time.Now()
	run, err := e.Evaluate(ctx, test, dataHash)
	if err != nil {
		return nil, err
	}
	run.Algorithm = kind
	run.DataSource = string(e.source.Kind())
	run.TrainRows = train.Len()
	run.DurationMs = time.Since(started).Milliseconds()
	telemetry.ObserveStage("evaluate", stage, "run_id", run.ID)

	sample, err := e.integrationSample(test)
	if err != nil {
		return nil, err
	}
	bundle := &artifact.Bundle{
		FeatureSchema:     e.features,
		Transformers:      e.chain,
		Algorithm:         e.algorithm,
		IntegrationSample: sample,
	}

	if e.store != nil {
		stage = time.Now()
		if err := e.store.Save(ctx, bundle); err != nil {
			return nil, fmt.Errorf("failed to save artifacts: %w", err)
		}
		telemetry.ObserveStage("artifact_dump", stage, "algorithm", kind)
	}
	if e.repo != nil {
		if err := e.repo.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to save training run: %w", err)
		}
	}

	slog.Info("model created",
		"run_id", run.ID,
		"algorithm", kind,
		"data_source", run.DataSource,
		"train_rows", run.TrainRows,
		"test_rows", run.TestRows,
		"duration_ms", run.DurationMs,
	)
	return &Result{Run: run, Bundle: bundle, CacheHit: hit}, nil
}

// integrationSample draws up to IntegrationSampleSize test rows, seeded,
// kept in time order. Only the columns a prediction request carries and
// the label are kept.
func (e *Estimator) integrationSample(test *table.Table) (*table.Table, error) {
	n := e.cfg.IntegrationSampleSize
	if n <= 0 || n > test.Len() {
		n = test.Len()
	}

	r := rand.New(rand.NewPCG(e.cfg.SampleSeed, e.cfg.SampleSeed))
	rows := r.Perm(test.Len())[:n]
	slices.Sort(rows)
	sample := test.Take(rows)

	columns := []string{domain.ColDatetime, domain.ColFraud}
	for _, name := range e.features.Names() {
		if sample.Has(name) && !slices.Contains(columns, name) {
			columns = append(columns, name)
		}
	}
	return sample.Select(columns...)
}
