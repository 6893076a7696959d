package bus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// ChannelBus is an in-process bus. Each subscriber owns a buffered queue
// drained by one goroutine; a full queue drops the message for that
// subscriber only.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string][]*channelSubscription
	closed     bool
}

type channelSubscription struct {
	bus     *ChannelBus
	key     string
	topic   string
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChannelBus returns a bus whose subscriber queues hold bufferSize
// messages (1000 when non-positive).
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string][]*channelSubscription),
	}
}

func channelKey(tenantID, topic string) string {
	return tenantID + "/" + topic
}

// Publish hands msg to every subscriber of the tenant's topic without
// blocking.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	msg, err := envelope(tenantID, topic, payload)
	if err != nil {
		return err
	}
	return b.deliver(msg)
}

func (b *ChannelBus) deliver(msg *domain.Message) error {
	tenantID, topic := msg.TenantID, msg.Topic
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.topics[channelKey(tenantID, topic)] {
		select {
		case sub.queue <- msg:
			telemetry.BusMessagesTotal.WithLabelValues(topic, "delivered").Inc()
		default:
			telemetry.BusMessagesTotal.WithLabelValues(topic, "dropped").Inc()
			slog.Warn("subscriber queue full, message dropped",
				"tenant_id", tenantID,
				"topic", topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe starts a goroutine that calls handler for each message until the
// subscription, ctx or the bus ends.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, domain.Validationf("tenant id is required to subscribe to %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		key:     channelKey(tenantID, topic),
		topic:   topic,
		handler: handler,
		queue:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.topics[sub.key] = append(b.topics[sub.key], sub)
	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("message handler failed",
					"tenant_id", msg.TenantID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes payload and waits for the first message on the private
// topic named by the request's ReplyTo metadata.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	msg, err := envelope(tenantID, topic, payload)
	if err != nil {
		return nil, err
	}
	replyTopic := topic + ".reply." + msg.ID
	msg.Metadata[ReplyTo] = replyTopic

	replies := make(chan []byte, 1)
	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(_ context.Context, msg *domain.Message) error {
		select {
		case replies <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.deliver(msg); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	timer := time.NewTimer(requestTimeout(deadline, ok))
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Closing twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.topics = make(map[string][]*channelSubscription)
	return nil
}

// Unsubscribe stops the handler goroutine and detaches the subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		s.bus.topics[s.key] = slices.DeleteFunc(s.bus.topics[s.key], func(other *channelSubscription) bool {
			return other == s
		})
		if len(s.bus.topics[s.key]) == 0 {
			delete(s.bus.topics, s.key)
		}
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
