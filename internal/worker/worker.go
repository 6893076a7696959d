// Package worker scores prediction requests that arrive on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker subscribes to kestrel.prediction.requested for each tenant and
// hands the requests to a decision.Processor, which publishes the outcome.
type Worker struct {
	bus       domain.EventBus
	processor *decision.Processor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to subscribe for. Empty means decision.DefaultTenant only.
	TenantIDs []string
}

// NewWorker creates a worker. Nothing is consumed until Start.
func NewWorker(b domain.EventBus, processor *decision.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes for every configured tenant. A tenant that cannot be
// subscribed is logged and skipped; Start fails only when none could be.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{decision.DefaultTenant}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var lastErr error
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicPredictionRequested, w.handle)
		if err != nil {
			slog.Error("failed to start worker for tenant", "tenant_id", tenantID, "error", err)
			lastErr = err
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
	}
	if len(w.subscriptions) == 0 && lastErr != nil {
		return lastErr
	}

	slog.Info("workers started",
		"tenant_count", len(w.subscriptions),
		"topic", domain.TopicPredictionRequested,
		"algorithm", w.processor.Algorithm(),
	)
	return nil
}

// handle scores one request. A message sent with bus.Request also gets the
// decision as its reply.
func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req decision.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		return domain.Validationf("message %s: %v", msg.ID, err)
	}
	if err := req.Validate(); err != nil {
		w.failed.Add(1)
		return err
	}
	req.TenantID = msg.TenantID
	req.Source = decision.SourceBus

	d, err := w.processor.Decide(ctx, req)
	if err != nil {
		w.failed.Add(1)
		return err
	}
	w.processed.Add(1)

	if msg.Metadata[bus.ReplyTo] != "" {
		payload, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
			slog.Warn("failed to reply", "transaction_id", d.TransactionID, "error", err)
		}
	}

	slog.Info("transaction processed",
		"transaction_id", d.TransactionID,
		"tenant_id", msg.TenantID,
		"transaction_to_block", d.Block,
		"score", d.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes everything. In-flight handlers see a cancelled context.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return nil
}

// Stats reports the worker's subscriptions and counters.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
