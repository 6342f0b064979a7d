package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/harrierhq/harrier/internal/domain"
)

// NATSBus implements EventBus using NATS, for multi-node deployments where
// the recording path and the evaluation workers run in separate processes.
type NATSBus struct {
	mu            sync.Mutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	config        domain.EventBusConfig
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to NATS and returns the bus.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("harrier"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
		config:        cfg,
	}, nil
}

// Publish sends a message to a topic.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := &nats.Msg{
		Subject: topic,
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set("Msg-Id", newMsgID())

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	natsSub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg := &domain.Message{
			ID:        m.Header.Get("Msg-Id"),
			Topic:     m.Subject,
			Payload:   m.Data,
			Metadata:  make(map[string]string),
			Timestamp: time.Now().UnixNano(),
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("nats handler failed", "topic", m.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{
		id:    newMsgID(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats connection is down")
	}
	return nil
}

// Close drains and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscriptions {
		_ = sub.sub.Unsubscribe()
	}
	b.subscriptions = make(map[string]*natsSubscription)

	return b.conn.Drain()
}

// Unsubscribe stops receiving messages.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}

func newMsgID() string {
	return uuid.New().String()
}
