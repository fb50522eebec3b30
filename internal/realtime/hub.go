// Package realtime fans out best-effort change notifications to live
// dashboard sessions. Nothing here is durable: a subscriber that is slow or
// disconnected misses messages and must re-query.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/metrics"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

const (
	TypeNewEvent    = "new_event"
	TypeEventsBatch = "events_batch"
)

const defaultBufferSize = 64

// Message is delivered to subscribers of Topic.
type Message struct {
	Type  string        `json:"type"`
	Topic string        `json:"topic"`
	Event *models.Event `json:"event,omitempty"`
	Count int           `json:"count,omitempty"`
}

// ProjectTopic is the topic carrying events for one project.
func ProjectTopic(projectID uuid.UUID) string {
	return fmt.Sprintf("events:%s", projectID)
}

// OrgTopic is the topic carrying events for every project in an organization.
func OrgTopic(orgID uuid.UUID) string {
	return fmt.Sprintf("events:org:%s", orgID)
}

// Broker publishes a message to every subscriber of its topic.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscription receives the messages published to one topic.
type Subscription struct {
	hub   *Hub
	topic string
	ch    chan Message
	once  sync.Once
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Message { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub is the in-process topic registry. It implements Broker for
// single-process deployments; bridges deliver into it otherwise.
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]map[*Subscription]struct{}
	closed     bool
	bufferSize int
	logger     *slog.Logger
}

// NewHub creates an empty hub. bufferSize <= 0 selects the default.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics:     make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a new subscription to topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{hub: h, topic: topic, ch: make(chan Message, h.bufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	metrics.RealtimeSubscribers.Inc()
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
	close(sub.ch)
	metrics.RealtimeSubscribers.Dec()
}

// Publish delivers msg to local subscribers without blocking. A subscriber
// whose buffer is full drops the message.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[msg.Topic] {
		select {
		case sub.ch <- msg:
		default:
			metrics.RealtimeDropped.Inc()
			h.logger.Debug("realtime subscriber buffer full, dropping message",
				"topic", msg.Topic, "type", msg.Type)
		}
	}
	return nil
}

// Close ends every subscription. Later subscriptions are returned already closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			close(sub.ch)
			metrics.RealtimeSubscribers.Dec()
		}
		delete(h.topics, topic)
	}
}

// SubscriberCount returns the number of live subscriptions to topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
