// Package decision turns a scored transaction into a block decision and
// publishes it.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/table"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

var (
	tracer   = otel.Tracer("kestrel-decision")
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// DefaultTenant receives decisions for requests that name no tenant.
const DefaultTenant = "default"

// Sources label where a request came from.
const (
	SourceHTTP = "http"
	SourceBus  = "bus"
)

// Request is one transaction to score. Features holds every pre-computed
// feature except the timestamp.
type Request struct {
	TransactionID string             `json:"transaction_id" validate:"required,numeric"`
	TenantID      string             `json:"tenant_id,omitempty"`
	Datetime      int64              `json:"tx_datetime" validate:"gt=0"`
	Features      map[string]float64 `json:"features" validate:"required,min=1"`
	Source        string             `json:"-"`
}

// Validate checks the request fields. Feature names are checked later
// against the model's feature schema.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return domain.Validationf("field %s failed on %s", f.Field(), f.Tag())
		}
		return domain.Validationf("%v", err)
	}
	return nil
}

// Predictor scores tables. *pipeline.Estimator implements it.
type Predictor interface {
	Predict(ctx context.Context, t *table.Table) (metrics.Results, error)
	Algorithm() model.Algorithm
}

// Row builds the single-row table the predictor expects. The row index is
// the numeric transaction id.
func Row(req Request) (*table.Table, error) {
	id, err := strconv.ParseInt(req.TransactionID, 10, 64)
	if err != nil {
		return nil, domain.Validationf("transaction id %q is not an integer", req.TransactionID)
	}
	t, err := table.WithIndex([]int64{id}).
		WithTimes(domain.ColDatetime, []time.Time{time.UnixMilli(req.Datetime).UTC()})
	if err != nil {
		return nil, err
	}
	for _, name := range slices.Sorted(maps.Keys(req.Features)) {
		if name == domain.ColDatetime {
			continue
		}
		if t, err = t.WithFloats(name, []float64{req.Features[name]}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Processor scores requests, applies block rules and publishes decisions.
type Processor struct {
	predictor Predictor
	engine    *rules.Engine
	bus       domain.EventBus
}

// Option configures a Processor.
type Option func(*Processor)

// WithRules blocks a transaction when any loaded rule matches, whatever the
// model predicted.
func WithRules(engine *rules.Engine) Option {
	return func(p *Processor) { p.engine = engine }
}

// WithBus publishes every decision, and an alert for blocked transactions.
func WithBus(bus domain.EventBus) Option {
	return func(p *Processor) { p.bus = bus }
}

// NewProcessor returns a processor around predictor.
func NewProcessor(predictor Predictor, opts ...Option) *Processor {
	p := &Processor{predictor: predictor}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Algorithm names the model behind the decisions.
func (p *Processor) Algorithm() model.Kind {
	return p.predictor.Algorithm().Kind()
}

// Decide scores req and returns its decision.
func (p *Processor) Decide(ctx context.Context, req Request) (*domain.Decision, error) {
	ctx, span := tracer.Start(ctx, "decision.decide",
		trace.WithAttributes(attribute.String("transaction_id", req.TransactionID)))
	defer span.End()

	row, err := Row(req)
	if err != nil {
		return nil, err
	}

	kind := string(p.Algorithm())
	started := time.Now()
	res, err := p.predictor.Predict(ctx, row)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	telemetry.PredictionLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	if len(res.Scores) != 1 || len(res.Predictions) != 1 {
		return nil, domain.Validationf("expected one prediction, got %d", len(res.Predictions))
	}

	d := &domain.Decision{
		TransactionID: req.TransactionID,
		Score:         res.Scores[0],
		Prediction:    res.Predictions[0],
		Algorithm:     kind,
		DecidedAt:     time.Now().UTC(),
	}
	if p.engine != nil {
		d.Rules = p.engine.EvaluateAll(ctx, rules.Input{
			Score:      d.Score,
			Prediction: d.Prediction,
			Amount:     req.Features[domain.ColAmount],
			Features:   req.Features,
		})
	}
	if d.Prediction == 1 || rules.Matched(d.Rules) {
		d.Block = 1
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		d.TraceID = sc.TraceID().String()
	}
	span.SetAttributes(attribute.Int("transaction_to_block", d.Block), attribute.Float64("score", d.Score))

	source := req.Source
	if source == "" {
		source = SourceHTTP
	}
	telemetry.PredictionsTotal.WithLabelValues(kind, source, strconv.Itoa(d.Block)).Inc()
	slog.Debug("transaction scored",
		"transaction_id", d.TransactionID,
		"score", d.Score,
		"prediction", d.Prediction,
		"transaction_to_block", d.Block,
		"source", source,
	)

	p.publish(ctx, req.TenantID, d)
	return d, nil
}

// publish is best effort: a bus failure never fails the decision.
func (p *Processor) publish(ctx context.Context, tenantID string, d *domain.Decision) {
	if p.bus == nil {
		return
	}
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	payload, err := json.Marshal(d)
	if err != nil {
		slog.Error("failed to encode decision", "transaction_id", d.TransactionID, "error", err)
		return
	}

	topics := []string{domain.TopicDecision}
	if d.Block == 1 {
		topics = append(topics, domain.TopicAlert)
	}
	for _, topic := range topics {
		if err := p.bus.Publish(ctx, tenantID, topic, payload); err != nil {
			slog.Warn("failed to publish decision",
				"transaction_id", d.TransactionID,
				"topic", topic,
				"error", err,
			)
		}
	}
}
