// Package pipeline composes a data source, a transformer chain, an
// algorithm and a temporal evaluator into a trainable, servable estimator.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/datasource"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/hashing"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/schema"
	"github.com/opensource-finance/kestrel/internal/table"
	"github.com/opensource-finance/kestrel/internal/transform"
)

var tracer = otel.Tracer("kestrel-pipeline")

// Estimator trains and applies one algorithm over a feature schema.
//
// An estimator built by New carries the training-only collaborators (data
// source, evaluator, cache, stores). One restored with FromBundle can only
// Predict.
type Estimator struct {
	algorithm model.Algorithm
	params    model.Params
	chain     *transform.Chain
	features  schema.Schema

	cfg       domain.PipelineConfig
	source    datasource.Source
	evaluator *TimeEvaluator

	cache    domain.Cache
	cacheTTL time.Duration
	repo     domain.Repository
	store    artifact.Store
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithCache memoises preprocessed tables.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(e *Estimator) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithRepository persists simulated events and training runs.
func WithRepository(repo domain.Repository) Option {
	return func(e *Estimator) { e.repo = repo }
}

// WithArtifactStore saves the bundle at the end of CreateModel.
func WithArtifactStore(s artifact.Store) Option {
	return func(e *Estimator) { e.store = s }
}

// New builds a trainable estimator for the configured data source and
// algorithm.
func New(cfg domain.PipelineConfig, opts ...Option) (*Estimator, error) {
	e := &Estimator{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	source, err := datasource.New(cfg, datasource.WithRepository(e.repo))
	if err != nil {
		return nil, err
	}
	base, err := schema.Features(cfg.DataSource)
	if err != nil {
		return nil, err
	}
	chain, err := defaultChain(base, cfg.Transformer)
	if err != nil {
		return nil, err
	}
	algorithm, err := model.New(cfg.Algorithm, nil)
	if err != nil {
		return nil, err
	}
	evaluator, err := NewTimeEvaluator(cfg.Evaluation)
	if err != nil {
		return nil, err
	}

	e.algorithm = algorithm
	e.params = algorithm.Params()
	e.chain = chain
	e.features = withChainOutputs(base, chain)
	e.source = source
	e.evaluator = evaluator
	return e, nil
}

// FromBundle restores a serving-ready estimator.
func FromBundle(b *artifact.Bundle) *Estimator {
	return &Estimator{
		algorithm: b.Algorithm,
		params:    b.Algorithm.Params(),
		chain:     b.Transformers,
		features:  b.FeatureSchema,
	}
}

// Fake returns an estimator whose output ignores its input.
func Fake() *Estimator {
	return &Estimator{
		algorithm: &model.Fake{},
		params:    model.Params{},
		chain:     &transform.Chain{},
		features:  schema.Schema{Name: "fake.features"},
	}
}

// defaultChain is the timestamp encoding followed, unless it is the
// identity, by the configured scaler on every float feature.
func defaultChain(features schema.Schema, transformer string) (*transform.Chain, error) {
	chain := transform.TimestampChain()
	if transformer == "" {
		return chain, nil
	}
	kind, err := transform.ParseKind(transformer)
	if err != nil {
		return nil, err
	}
	switch kind {
	case transform.Identity:
		return chain, nil
	case transform.MinMax, transform.Standard:
	default:
		return nil, domain.Configurationf("transformer %s cannot scale feature columns", kind)
	}

	var columns []string
	for _, c := range features.Columns {
		if c.Type == schema.Float {
			columns = append(columns, c.Name)
		}
	}
	scalers, err := transform.ForColumns(kind, columns)
	if err != nil {
		return nil, err
	}
	return chain.Append(scalers), nil
}

// withChainOutputs adds the columns a chain creates to the feature schema.
func withChainOutputs(base schema.Schema, chain *transform.Chain) schema.Schema {
	out := schema.Schema{Name: base.Name, Columns: slices.Clone(base.Columns)}
	names := base.Names()
	for _, c := range chain.OutputColumns() {
		if !slices.Contains(names, c) {
			out.Columns = append(out.Columns, schema.Column{Name: c, Type: schema.Float})
		}
	}
	return out
}

// Algorithm returns the current, possibly unfitted, algorithm.
func (e *Estimator) Algorithm() model.Algorithm { return e.algorithm }

// FeatureSchema returns the columns the algorithm is fitted on.
func (e *Estimator) FeatureSchema() schema.Schema { return e.features }

// Transformers returns the chain applied before the algorithm.
func (e *Estimator) Transformers() *transform.Chain { return e.chain }

// Source returns the data source, nil for a restored estimator.
func (e *Estimator) Source() datasource.Source { return e.source }

// Evaluator returns the evaluator, nil for a restored estimator.
func (e *Estimator) Evaluator() *TimeEvaluator { return e.evaluator }

// clone returns an estimator sharing the read-only collaborators with an
// unfitted copy of the chain, so concurrent trials never share state.
func (e *Estimator) clone() *Estimator {
	c := *e
	c.chain = e.chain.Clone()
	return &c
}

// Fit fits the chain and then a fresh algorithm with the given parameters
// layered over the estimator's own.
func (e *Estimator) Fit(ctx context.Context, t *table.Table, params model.Params) error {
	ctx, span := tracer.Start(ctx, "pipeline.fit")
	defer span.End()

	transformed, err := e.chain.FitTransform(t)
	if err != nil {
		return fmt.Errorf("fit transformers: %w", err)
	}
	x, err := e.matrix(transformed)
	if err != nil {
		return err
	}
	y, err := labels(t)
	if err != nil {
		return err
	}

	merged := model.Merge(e.params, params)
	algorithm, err := model.New(string(e.algorithm.Kind()), merged)
	if err != nil {
		return err
	}
	if err := algorithm.Fit(ctx, x, y); err != nil {
		return err
	}
	e.algorithm = algorithm
	e.params = merged
	return nil
}

// Predict scores a table with the fitted chain and algorithm.
func (e *Estimator) Predict(ctx context.Context, t *table.Table) (metrics.Results, error) {
	_, span := tracer.Start(ctx, "pipeline.predict")
	defer span.End()

	transformed, err := e.chain.Transform(t)
	if err != nil {
		return metrics.Results{}, fmt.Errorf("apply transformers: %w", err)
	}
	x, err := e.matrix(transformed)
	if err != nil {
		return metrics.Results{}, err
	}
	scores, err := e.algorithm.Scores(x)
	if err != nil {
		return metrics.Results{}, err
	}
	predictions, err := e.algorithm.Predictions(x)
	if err != nil {
		return metrics.Results{}, err
	}
	return metrics.Results{Predictions: predictions, Scores: scores}, nil
}

func (e *Estimator) matrix(t *table.Table) ([][]float64, error) {
	filtered, err := e.features.Filter(t)
	if err != nil {
		return nil, err
	}
	return filtered.Matrix(e.features.Names()...)
}

func labels(t *table.Table) ([]float64, error) {
	target, err := schema.Get(schema.Target)
	if err != nil {
		return nil, err
	}
	filtered, err := target.Filter(t)
	if err != nil {
		return nil, err
	}
	return filtered.Floats(domain.ColFraud)
}

// TrueValues extracts what the metrics compare predictions against.
func TrueValues(t *table.Table) (metrics.TrueValues, error) {
	fraud, err := labels(t)
	if err != nil {
		return metrics.TrueValues{}, err
	}

	ts, err := schema.Get(schema.Timestamp)
	if err != nil {
		return metrics.TrueValues{}, err
	}
	tsTable, err := ts.Filter(t)
	if err != nil {
		return metrics.TrueValues{}, err
	}
	times, err := tsTable.Times(domain.ColDatetime)
	if err != nil {
		return metrics.TrueValues{}, err
	}

	cs, err := schema.Get(schema.Customer)
	if err != nil {
		return metrics.TrueValues{}, err
	}
	csTable, err := cs.Filter(t)
	if err != nil {
		return metrics.TrueValues{}, err
	}
	customers, err := csTable.Keys(domain.ColCustomerID)
	if err != nil {
		return metrics.TrueValues{}, err
	}
	return metrics.TrueValues{Fraud: fraud, Times: times, Customers: customers}, nil
}

// Evaluate predicts on t and records the metrics as a training run.
func (e *Estimator) Evaluate(ctx context.Context, t *table.Table, dataHash hashing.Key) (*domain.TrainingRun, error) {
	if e.evaluator == nil {
		return nil, domain.Configurationf("estimator has no evaluator")
	}
	res, err := e.Predict(ctx, t)
	if err != nil {
		return nil, err
	}
	truth, err := TrueValues(t)
	if err != nil {
		return nil, err
	}
	return e.evaluator.LogTesting(e.params, dataHash, res, truth)
}
