package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

func requestPayload(t *testing.T, txID string) []byte {
	t.Helper()
	payload, err := json.Marshal(decision.Request{
		TransactionID: txID,
		Datetime:      time.Date(2023, 11, 2, 8, 30, 0, 0, time.UTC).UnixMilli(),
		Features:      map[string]float64{domain.ColAmount: 57.3},
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return payload
}

func newWorker(b domain.EventBus) *Worker {
	return NewWorker(b, decision.NewProcessor(pipeline.Fake(), decision.WithBus(b)))
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := newWorker(eventBus)
		if err := w.Start(Config{TenantIDs: []string{"tenant-001", "tenant-002"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}
		for _, topic := range stats.Topics {
			if topic != domain.TopicPredictionRequested {
				t.Errorf("unexpected topic %s", topic)
			}
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		w := newWorker(eventBus)
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		decisions := make(chan *domain.Message, 1)
		alerts := make(chan *domain.Message, 1)
		ctx := context.Background()
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicDecision, func(_ context.Context, msg *domain.Message) error {
			decisions <- msg
			return nil
		})
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(_ context.Context, msg *domain.Message) error {
			alerts <- msg
			return nil
		})

		if err := eventBus.Publish(ctx, "tenant-001", domain.TopicPredictionRequested, requestPayload(t, "77")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-decisions:
			var d domain.Decision
			if err := json.Unmarshal(msg.Payload, &d); err != nil {
				t.Fatalf("failed to decode decision: %v", err)
			}
			if d.TransactionID != "77" {
				t.Errorf("expected transaction 77, got %s", d.TransactionID)
			}
			if d.Block != 1 {
				t.Errorf("expected the fake model to block, got %d", d.Block)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for decision")
		}

		select {
		case <-alerts:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for alert")
		}

		if stats := w.GetStats(); stats.Processed != 1 {
			t.Errorf("expected 1 processed request, got %d", stats.Processed)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		w := newWorker(eventBus)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reply, err := eventBus.Request(ctx, decision.DefaultTenant, domain.TopicPredictionRequested, requestPayload(t, "78"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		var d domain.Decision
		if err := json.Unmarshal(reply, &d); err != nil {
			t.Fatalf("failed to decode reply: %v", err)
		}
		if d.TransactionID != "78" || d.Algorithm != "fake" {
			t.Errorf("unexpected reply %+v", d)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		w := newWorker(eventBus)
		if err := w.Start(Config{TenantIDs: []string{"tenant-003"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx := context.Background()
		eventBus.Publish(ctx, "tenant-003", domain.TopicPredictionRequested, []byte("not json"))
		eventBus.Publish(ctx, "tenant-003", domain.TopicPredictionRequested, requestPayload(t, "abc"))

		deadline := time.Now().Add(time.Second)
		for w.GetStats().Failed < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		stats := w.GetStats()
		if stats.Failed != 2 || stats.Processed != 0 {
			t.Errorf("expected 2 failed and 0 processed, got %d and %d", stats.Failed, stats.Processed)
		}
	})
}

func TestWorkerStartFailsWithoutSubscriptions(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	eventBus.Close()

	w := newWorker(eventBus)
	if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err == nil {
		t.Error("expected Start to fail on a closed bus")
	}
}
