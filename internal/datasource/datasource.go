// Package datasource loads raw transactions and turns them into the
// engineered feature table a data source's schema expects.
package datasource

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Kind is a data source variant.
type Kind string

const (
	Synthetic Kind = "synthetic"
	Local     Kind = "local"
)

// ParseKind maps a configured name onto a data source kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case Synthetic, Local:
		return Kind(name), nil
	}
	return "", domain.Configurationf("unsupported data source type: %s", name)
}

// Source provides raw transactions and their preprocessing recipe.
type Source interface {
	Kind() Kind

	// Load returns the raw transaction table.
	Load(ctx context.Context) (*table.Table, error)

	// Preprocess adds the engineered feature columns.
	Preprocess(ctx context.Context, t *table.Table) (*table.Table, error)

	// Params identify the loaded data, for content-addressed caching.
	Params() map[string]any
}

// Option configures a Source.
type Option func(*options)

type options struct {
	repo domain.Repository
}

// WithRepository persists simulated events and reloads them on later runs.
func WithRepository(repo domain.Repository) Option {
	return func(o *options) { o.repo = repo }
}

// New creates the configured data source.
func New(cfg domain.PipelineConfig, opts ...Option) (Source, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	kind, err := ParseKind(cfg.DataSource)
	if err != nil {
		return nil, err
	}
	switch kind {
	case Synthetic:
		return NewSynthetic(cfg.Simulation, o.repo)
	case Local:
		return NewLocal(cfg.LocalPath)
	}
	return nil, domain.Configurationf("unsupported data source type: %s", cfg.DataSource)
}

// windows are the rolling windows, in days, of every recipe.
var windows = []int{1, 7, 30}

// fraudDelay is the label latency, in days, applied to fraud aggregates.
const fraudDelay = 7

// customerSpending adds the mean and count of tx_amount per customer.
func customerSpending(ctx context.Context, t *table.Table) (*table.Table, error) {
	return features.Aggregate(ctx, t, features.Spec{
		GroupKey: domain.ColCustomerID,
		TimeKey:  domain.ColDatetime,
		Feature:  domain.ColAmount,
		Windows:  windows,
		Funcs:    []features.AggFunc{features.Mean, features.Count},
	})
}

// fraudRate adds "{group}_mean_tx_fraud_{W}_days": the delayed share of
// fraudulent events per group, 0 when the delayed window is empty.
// The intermediate sum and count columns are dropped.
func fraudRate(ctx context.Context, t *table.Table, group string) (*table.Table, error) {
	spec := features.Spec{
		GroupKey: group,
		TimeKey:  domain.ColDatetime,
		Feature:  domain.ColFraud,
		Windows:  windows,
		Funcs:    []features.AggFunc{features.Sum, features.Count},
		Delay:    fraudDelay,
	}
	out, err := features.Aggregate(ctx, t, spec)
	if err != nil {
		return nil, err
	}
	var tmp []string
	for _, w := range windows {
		sum, count := spec.ColumnName(features.Sum, w), spec.ColumnName(features.Count, w)
		if out, err = features.Ratio(out, sum, count, spec.ColumnName(features.Mean, w)); err != nil {
			return nil, err
		}
		tmp = append(tmp, sum, count)
	}
	return out.Drop(tmp...), nil
}

func logStage(stage string, kind Kind, rows int, started time.Time) {
	slog.Info("data source stage completed",
		"stage", stage,
		"data_source", string(kind),
		"rows", rows,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}
