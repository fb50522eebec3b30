package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "pulsekit."

// NATSBridge carries messages between processes over NATS core subjects.
// Every process subscribes without a queue group so each local hub sees
// every message.
type NATSBridge struct {
	conn   *nats.Conn
	hub    *Hub
	logger *slog.Logger
}

func NewNATSBridge(conn *nats.Conn, hub *Hub, logger *slog.Logger) *NATSBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridge{conn: conn, hub: hub, logger: logger}
}

func (b *NATSBridge) Publish(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if err := b.conn.Publish(natsSubjectPrefix+msg.Topic, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Run subscribes to every PulseKit subject and blocks until ctx is done.
func (b *NATSBridge) Run(ctx context.Context) error {
	sub, err := b.conn.Subscribe(natsSubjectPrefix+">", func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn("discarding malformed realtime message", "subject", m.Subject, "error", err)
			return
		}
		msg.Topic = strings.TrimPrefix(m.Subject, natsSubjectPrefix)
		_ = b.hub.Publish(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	b.logger.Info("realtime nats bridge subscribed")

	<-ctx.Done()
	return sub.Unsubscribe()
}
