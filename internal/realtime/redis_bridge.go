package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "pulsekit:"

// RedisBridge carries messages between processes over Redis pub/sub.
// Publish sends to Redis; Run delivers everything received into the local hub.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewRedisBridge(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{client: client, hub: hub, logger: logger}
}

func (b *RedisBridge) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannelPrefix+msg.Topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to every PulseKit channel and blocks until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, redisChannelPrefix+"events:*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	b.logger.Info("realtime redis bridge subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("discarding malformed realtime message", "channel", m.Channel, "error", err)
				continue
			}
			msg.Topic = strings.TrimPrefix(m.Channel, redisChannelPrefix)
			_ = b.hub.Publish(ctx, msg)
		}
	}
}
