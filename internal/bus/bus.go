// Package bus carries prediction requests and decisions between the API,
// the async worker and downstream consumers.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by every operation on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// ReplyTo is the metadata key naming the topic a Request waits on.
const ReplyTo = "reply_to"

// DefaultRequestTimeout bounds Request when the context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// New returns the bus selected by cfg.Type: "channel" for a single process,
// "nats" when several replicas share decisions.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, domain.Configurationf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a message received through Request.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	topic := msg.Metadata[ReplyTo]
	if topic == "" {
		return domain.Validationf("message %s expects no reply", msg.ID)
	}
	return b.Publish(ctx, msg.TenantID, topic, payload)
}

func envelope(tenantID, topic string, payload []byte) (*domain.Message, error) {
	if tenantID == "" {
		return nil, domain.Validationf("tenant id is required to use topic %s", topic)
	}
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}, nil
}

func requestTimeout(deadline time.Time, ok bool) time.Duration {
	if !ok {
		return DefaultRequestTimeout
	}
	return time.Until(deadline)
}
