package pipeline

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hashing"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/split"
	"github.com/opensource-finance/kestrel/internal/table"
)

// TimeEvaluator splits along the time axis and scores test predictions with
// a fixed list of metrics.
type TimeEvaluator struct {
	splitter split.Splitter
	metrics  []metrics.Kind
	opts     metrics.Options
}

// NewTimeEvaluator validates the metric names and the top-k parameters.
func NewTimeEvaluator(cfg domain.EvaluationConfig) (*TimeEvaluator, error) {
	if cfg.TestDays <= 0 {
		return nil, domain.InvalidParameterf("test_days must be positive, got %d", cfg.TestDays)
	}
	if cfg.DelayDays < 0 {
		return nil, domain.InvalidParameterf("delay_days must be non-negative, got %d", cfg.DelayDays)
	}

	kinds := make([]metrics.Kind, 0, len(cfg.Metrics))
	for _, name := range cfg.Metrics {
		k, err := metrics.ParseKind(name)
		if err != nil {
			return nil, err
		}
		if (k == metrics.CardPrecisionTopK || k == metrics.PerfectCardPrecisionTopK) && cfg.TopK <= 0 {
			return nil, domain.InvalidParameterf("top_k must be positive, got %d", cfg.TopK)
		}
		kinds = append(kinds, k)
	}

	timeKey := cfg.TimeKey
	if timeKey == "" {
		timeKey = domain.ColDatetime
	}
	return &TimeEvaluator{
		splitter: split.Splitter{TimeKey: timeKey, TestDays: cfg.TestDays, DelayDays: cfg.DelayDays},
		metrics:  kinds,
		opts: metrics.Options{
			TopK:               cfg.TopK,
			PerfectDenominator: cfg.PerfectDenominator,
			ExcludeDetected:    cfg.ExcludeDetected,
		},
	}, nil
}

// Split returns the train and test partitions. Either one being empty is a
// validation error: there is nothing to fit or nothing to score.
func (e *TimeEvaluator) Split(t *table.Table) (train, test *table.Table, err error) {
	train, test, err = e.splitter.Split(t)
	if err != nil {
		return nil, nil, err
	}
	if train.Len() == 0 {
		return nil, nil, domain.Validationf("temporal split produced an empty train set (%d rows, %d test days, %d delay days)",
			t.Len(), e.splitter.TestDays, e.splitter.DelayDays)
	}
	if test.Len() == 0 {
		return nil, nil, domain.Validationf("temporal split produced an empty test set")
	}
	return train, test, nil
}

// HashData identifies the data a model was trained and tested on.
func (e *TimeEvaluator) HashData(t *table.Table) hashing.Key {
	return hashing.Table(t)
}

// Evaluate computes every configured metric. Metrics that are undefined for
// this test set (a single class, no valid top-k day) are left out.
func (e *TimeEvaluator) Evaluate(res metrics.Results, truth metrics.TrueValues) (map[string]float64, error) {
	scores := make(map[string]float64, len(e.metrics))
	for _, k := range e.metrics {
		v, err := metrics.Measure(k, res, truth, e.opts)
		if errors.Is(err, domain.ErrValidation) {
			slog.Warn("metric undefined on test set", "metric", k, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) {
			slog.Warn("metric undefined on test set", "metric", k)
			continue
		}
		scores[string(k)] = v
	}
	return scores, nil
}

// LogTesting evaluates and records the outcome as a training run.
func (e *TimeEvaluator) LogTesting(params model.Params, dataHash hashing.Key, res metrics.Results, truth metrics.TrueValues) (*domain.TrainingRun, error) {
	scores, err := e.Evaluate(res, truth)
	if err != nil {
		return nil, err
	}
	run := &domain.TrainingRun{
		ID:              uuid.New().String(),
		DataHash:        string(dataHash),
		Scores:          scores,
		EstimatorParams: params,
		TestRows:        len(truth.Fraud),
		CreatedAt:       time.Now().UTC(),
	}

	args := []any{"run_id", run.ID, "data_hash", run.DataHash, "test_rows", run.TestRows}
	for name, v := range scores {
		args = append(args, name, v)
	}
	slog.Info("model evaluated", args...)
	return run, nil
}
