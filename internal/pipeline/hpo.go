package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/table"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Trial is one evaluated point of the search space.
type Trial struct {
	Index  int
	Params model.Params
	Score  float64
}

// best keeps the highest scoring trial. Equal scores keep the earlier
// trial, so the outcome does not depend on completion order.
type best struct {
	mu    sync.Mutex
	trial *Trial
}

func (b *best) offer(t Trial) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trial == nil || t.Score > b.trial.Score || (t.Score == b.trial.Score && t.Index < b.trial.Index) {
		b.trial = &t
	}
}

func (b *best) get() *Trial {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trial
}

// SearchHyperparameters runs a seeded random search over the algorithm's
// space. Each trial fits on the train part of a second temporal split of t
// and is scored by average precision on its test part. The candidate points
// are drawn up front, so the result is reproducible whatever the number of
// workers.
func (e *Estimator) SearchHyperparameters(ctx context.Context, t *table.Table) (*Trial, error) {
	ctx, span := tracer.Start(ctx, "pipeline.hpo")
	defer span.End()
	started := time.Now()

	space := e.algorithm.SearchSpace()
	if len(space) == 0 {
		return &Trial{Index: -1, Params: model.Params{}}, nil
	}
	for _, d := range space {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}

	cfg := e.cfg.HPO
	if cfg.NCalls <= 0 {
		return nil, domain.InvalidParameterf("n_calls must be positive, got %d", cfg.NCalls)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	train, validation, err := e.evaluator.Split(t)
	if err != nil {
		return nil, err
	}
	truth, err := labels(validation)
	if err != nil {
		return nil, err
	}

	r := rand.New(rand.NewPCG(cfg.RandomState, cfg.RandomState))
	candidates := make([]model.Params, cfg.NCalls)
	for i := range candidates {
		candidates[i] = model.SampleParams(space, r)
	}

	kind := string(e.algorithm.Kind())
	var tracker best
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, params := range candidates {
		g.Go(func() error {
			score, err := e.trial(gctx, train, validation, truth, params)
			if errors.Is(err, domain.ErrValidation) {
				// A single-class validation fold leaves average precision undefined.
				telemetry.HPOTrialsTotal.WithLabelValues(kind, "undefined").Inc()
				slog.Debug("hpo trial skipped", "trial", i, "error", err)
				return nil
			}
			if err != nil {
				telemetry.HPOTrialsTotal.WithLabelValues(kind, "failed").Inc()
				return err
			}
			telemetry.HPOTrialsTotal.WithLabelValues(kind, "ok").Inc()
			slog.Debug("hpo trial completed", "trial", i, "average_precision", score)
			tracker.offer(Trial{Index: i, Params: params, Score: score})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	winner := tracker.get()
	if winner == nil {
		return nil, domain.Validationf("no hyperparameter trial produced a validation score")
	}
	telemetry.ObserveStage("hpo", started,
		"algorithm", kind,
		"trials", cfg.NCalls,
		"best_trial", winner.Index,
		"average_precision", winner.Score)
	return winner, nil
}

func (e *Estimator) trial(ctx context.Context, train, validation *table.Table, truth []float64, params model.Params) (float64, error) {
	est := e.clone()
	if err := est.Fit(ctx, train, params); err != nil {
		return 0, err
	}
	res, err := est.Predict(ctx, validation)
	if err != nil {
		return 0, err
	}
	return metrics.AveragePrecisionScore(truth, res.Scores)
}

// OptimizeAndFit searches hyperparameters when enabled and then fits the
// final model on all of t.
func (e *Estimator) OptimizeAndFit(ctx context.Context, t *table.Table) error {
	started := time.Now()
	var params model.Params
	if e.cfg.DoHPO {
		winner, err := e.SearchHyperparameters(ctx, t)
		if err != nil {
			return err
		}
		params = winner.Params
	}
	if err := e.Fit(ctx, t, params); err != nil {
		return err
	}
	telemetry.ObserveStage("fit", started, "algorithm", e.algorithm.Kind(), "rows", t.Len(), "hpo", e.cfg.DoHPO)
	return nil
}
