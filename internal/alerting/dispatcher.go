package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/metrics"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"golang.org/x/sync/semaphore"
)

// ErrDelivery is returned when a webhook POST fails or is answered with a
// non-2xx status.
var ErrDelivery = errors.New("webhook delivery failed")

// DispatcherConfig configures webhook delivery.
type DispatcherConfig struct {
	Timeout        time.Duration
	MaxConcurrency int
	UserAgent      string
}

// Payload is the JSON body POSTed to a rule's webhook_url.
type Payload struct {
	Alert   AlertInfo    `json:"alert"`
	Project ProjectInfo  `json:"project"`
	Event   EventInfo    `json:"event"`
	Context EventContext `json:"context"`
}

type AlertInfo struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	RuleType    models.ConditionType `json:"rule_type"`
	TriggeredAt time.Time            `json:"triggered_at"`
}

type ProjectInfo struct {
	ID uuid.UUID `json:"id"`
}

type EventInfo struct {
	ID        uuid.UUID    `json:"id"`
	Type      string       `json:"type"`
	Level     models.Level `json:"level"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

type EventContext struct {
	Environment string `json:"environment"`
	Release     string `json:"release"`
}

// NewPayload builds the webhook body for rule firing on e.
func NewPayload(rule *models.AlertRule, e *models.Event, triggeredAt time.Time) Payload {
	var ruleType models.ConditionType
	if rule.Condition != nil {
		ruleType = rule.Condition.Type()
	}
	return Payload{
		Alert: AlertInfo{
			ID:          rule.ID,
			Name:        rule.Name,
			RuleType:    ruleType,
			TriggeredAt: triggeredAt.UTC(),
		},
		Project: ProjectInfo{ID: e.ProjectID},
		Event: EventInfo{
			ID:        e.ID,
			Type:      e.Type,
			Level:     e.Level,
			Message:   e.Message,
			Timestamp: e.Timestamp,
		},
		Context: EventContext{
			Environment: e.Environment,
			Release:     e.Release,
		},
	}
}

// Dispatcher POSTs webhook payloads. Notify is fire-and-forget with bounded
// concurrency; failures are logged at debug level and never retried.
type Dispatcher struct {
	client    *http.Client
	userAgent string
	sem       *semaphore.Weighted
	logger    *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "PulseKit-Webhook"
	}
	return &Dispatcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:    logger,
		now:       time.Now,
	}
}

// Notify delivers the webhook for rule in the background.
func (d *Dispatcher) Notify(rule *models.AlertRule, e *models.Event) {
	payload := NewPayload(rule, e, d.now())
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.Background()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)

		if err := d.Send(ctx, rule.WebhookURL, payload); err != nil {
			d.logger.Debug("webhook delivery failed",
				"rule_id", rule.ID,
				"url", rule.WebhookURL,
				"error", err,
			)
		}
	}()
}

// Fire delivers the webhook for rule synchronously and returns the outcome.
func (d *Dispatcher) Fire(ctx context.Context, rule *models.AlertRule, e *models.Event) error {
	return d.Send(ctx, rule.WebhookURL, NewPayload(rule, e, d.now()))
}

// Send POSTs payload to url once.
func (d *Dispatcher) Send(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: status %d", ErrDelivery, resp.StatusCode)
	}
	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	return nil
}

// Wait blocks until every queued delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
