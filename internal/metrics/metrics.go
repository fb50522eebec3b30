// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsekit_events_ingested_total",
			Help: "Events written to the event store, by ingestion path (single or batch)",
		},
		[]string{"path"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsekit_events_rejected_total",
			Help: "Events rejected or dropped during validation, by ingestion path",
		},
		[]string{"path"},
	)

	// Alerting
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsekit_alerts_triggered_total",
			Help: "Alert rules that matched an ingested event, by condition type",
		},
		[]string{"condition_type"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsekit_webhook_deliveries_total",
			Help: "Webhook POST attempts, by result (success or failure)",
		},
		[]string{"result"},
	)

	WebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulsekit_webhook_duration_seconds",
			Help:    "Webhook POST latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Realtime
	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsekit_realtime_subscribers",
			Help: "Live realtime subscriptions across all topics",
		},
	)

	RealtimeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsekit_realtime_dropped_total",
			Help: "Realtime messages dropped because a subscriber buffer was full",
		},
	)

	// Retention
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsekit_retention_deleted_events_total",
			Help: "Events deleted by the retention sweeper",
		},
	)

	RetentionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsekit_retention_runs_total",
			Help: "Retention sweeps, by result (success, skipped or failure)",
		},
		[]string{"result"},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsekit_http_request_duration_seconds",
			Help:    "HTTP request latency, by method, route pattern and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
