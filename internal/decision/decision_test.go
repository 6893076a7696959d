package decision

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/table"
)

type stubPredictor struct {
	res  metrics.Results
	err  error
	seen *table.Table
}

func (s *stubPredictor) Predict(_ context.Context, t *table.Table) (metrics.Results, error) {
	s.seen = t
	return s.res, s.err
}

func (s *stubPredictor) Algorithm() model.Algorithm { return &model.Fake{} }

func request(amount float64) Request {
	return Request{
		TransactionID: "1042",
		Datetime:      time.Date(2023, 11, 2, 8, 30, 0, 0, time.UTC).UnixMilli(),
		Features: map[string]float64{
			domain.ColAmount:                   amount,
			"customer_id_mean_tx_amount_1_days": 40,
		},
	}
}

func TestRow(t *testing.T) {
	req := request(12.5)
	req.Features[domain.ColDatetime] = 1

	row, err := Row(req)
	require.NoError(t, err)
	assert.Equal(t, []int64{1042}, row.Index())
	assert.Equal(t, []string{domain.ColDatetime, "customer_id_mean_tx_amount_1_days", domain.ColAmount}, row.Columns())

	times, err := row.Times(domain.ColDatetime)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 11, 2, 8, 30, 0, 0, time.UTC), times[0])

	amounts, err := row.Floats(domain.ColAmount)
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5}, amounts)

	req.TransactionID = "tx-1"
	_, err = Row(req)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("ModelBlocks", func(t *testing.T) {
		p := NewProcessor(pipeline.Fake())
		d, err := p.Decide(ctx, request(10))
		require.NoError(t, err)
		assert.Equal(t, "1042", d.TransactionID)
		assert.Equal(t, 1, d.Block)
		assert.Equal(t, 0.9, d.Score)
		assert.Equal(t, "fake", d.Algorithm)
		assert.Empty(t, d.Rules)
	})

	t.Run("ModelAllows", func(t *testing.T) {
		stub := &stubPredictor{res: metrics.Results{Predictions: []int{0}, Scores: []float64{0.2}}}
		d, err := NewProcessor(stub).Decide(ctx, request(10))
		require.NoError(t, err)
		assert.Equal(t, 0, d.Block)
		assert.Equal(t, 1, stub.seen.Len())
	})

	t.Run("RuleOverridesModel", func(t *testing.T) {
		engine, err := rules.NewEngine(2)
		require.NoError(t, err)
		require.NoError(t, engine.LoadRule(domain.BlockRule{ID: "large", Name: "Large amount", Expression: "tx_amount > 100.0", Enabled: true}))
		stub := &stubPredictor{res: metrics.Results{Predictions: []int{0}, Scores: []float64{0.2}}}
		p := NewProcessor(stub, WithRules(engine))

		d, err := p.Decide(ctx, request(250))
		require.NoError(t, err)
		assert.Equal(t, 1, d.Block)
		require.Len(t, d.Rules, 1)
		assert.True(t, d.Rules[0].Matched)

		d, err = p.Decide(ctx, request(20))
		require.NoError(t, err)
		assert.Equal(t, 0, d.Block)
	})

	t.Run("PredictorError", func(t *testing.T) {
		stub := &stubPredictor{err: errors.New("boom")}
		_, err := NewProcessor(stub).Decide(ctx, request(10))
		assert.EqualError(t, err, "boom")
	})

	t.Run("WrongResultLength", func(t *testing.T) {
		stub := &stubPredictor{res: metrics.Results{}}
		_, err := NewProcessor(stub).Decide(ctx, request(10))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestDecidePublishes(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	decisions := make(chan *domain.Message, 4)
	alerts := make(chan *domain.Message, 4)
	_, err := b.Subscribe(ctx, DefaultTenant, domain.TopicDecision, func(_ context.Context, msg *domain.Message) error {
		decisions <- msg
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, DefaultTenant, domain.TopicAlert, func(_ context.Context, msg *domain.Message) error {
		alerts <- msg
		return nil
	})
	require.NoError(t, err)

	p := NewProcessor(pipeline.Fake(), WithBus(b))
	want, err := p.Decide(ctx, request(10))
	require.NoError(t, err)

	for _, ch := range []chan *domain.Message{decisions, alerts} {
		select {
		case msg := <-ch:
			var got domain.Decision
			require.NoError(t, json.Unmarshal(msg.Payload, &got))
			assert.Equal(t, want.TransactionID, got.TransactionID)
			assert.Equal(t, 1, got.Block)
		case <-time.After(time.Second):
			t.Fatal("decision not published")
		}
	}

	// An allowed transaction publishes no alert.
	stub := &stubPredictor{res: metrics.Results{Predictions: []int{0}, Scores: []float64{0.1}}}
	_, err = NewProcessor(stub, WithBus(b)).Decide(ctx, request(10))
	require.NoError(t, err)
	select {
	case <-decisions:
	case <-time.After(time.Second):
		t.Fatal("decision not published")
	}
	select {
	case <-alerts:
		t.Fatal("unexpected alert")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDecideIgnoresBusFailure(t *testing.T) {
	b := bus.NewChannelBus(1)
	require.NoError(t, b.Close())

	d, err := NewProcessor(pipeline.Fake(), WithBus(b)).Decide(context.Background(), request(10))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Block)
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, request(10).Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"MissingTransactionID", func(r *Request) { r.TransactionID = "" }},
		{"NonNumericTransactionID", func(r *Request) { r.TransactionID = "abc" }},
		{"MissingDatetime", func(r *Request) { r.Datetime = 0 }},
		{"NoFeatures", func(r *Request) { r.Features = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(10)
			tt.mutate(&req)
			assert.ErrorIs(t, req.Validate(), domain.ErrValidation)
		})
	}
}
