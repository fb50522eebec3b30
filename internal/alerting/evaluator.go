// Package alerting matches newly stored events against per-project alert
// rules and delivers webhooks for the rules that fire.
package alerting

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/snowdamiz/pulsekit/internal/metrics"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// regexCacheSize bounds the number of compiled pattern_match expressions kept.
const regexCacheSize = 512

// Store is the data the evaluator reads.
type Store interface {
	ListEnabledAlertRules(ctx context.Context, projectID uuid.UUID) ([]*models.AlertRule, error)
	CountEvents(ctx context.Context, filter store.EventFilter) (int, error)
	HasEarlierEvents(ctx context.Context, e *models.Event) (bool, error)
}

// Notifier delivers a fired rule. Notify must not block on delivery.
type Notifier interface {
	Notify(rule *models.AlertRule, e *models.Event)
}

// Evaluator tests events against the enabled rules of their project.
type Evaluator struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger

	// Compiled patterns keyed by source. A nil value records a pattern that
	// failed to compile.
	regexes *lru.Cache[string, *regexp.Regexp]
}

func NewEvaluator(s Store, notifier Notifier, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	regexes, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	return &Evaluator{
		store:    s,
		notifier: notifier,
		logger:   logger,
		regexes:  regexes,
	}
}

// Evaluate loads the enabled rules for the event's project and notifies every
// rule that matches. Errors are logged; they never reach the ingestion caller.
func (ev *Evaluator) Evaluate(ctx context.Context, e *models.Event) {
	rules, err := ev.store.ListEnabledAlertRules(ctx, e.ProjectID)
	if err != nil {
		ev.logger.Warn("failed to load alert rules", "project_id", e.ProjectID, "error", err)
		return
	}

	for _, rule := range rules {
		ok, err := ev.Matches(ctx, rule, e)
		if err != nil {
			ev.logger.Warn("alert rule evaluation failed",
				"rule_id", rule.ID,
				"event_id", e.ID,
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}
		metrics.AlertsTriggered.WithLabelValues(string(rule.Condition.Type())).Inc()
		ev.logger.Info("alert rule triggered", "rule_id", rule.ID, "rule", rule.Name, "event_id", e.ID)
		if ev.notifier != nil {
			ev.notifier.Notify(rule, e)
		}
	}
}

// Matches reports whether e satisfies rule's condition.
func (ev *Evaluator) Matches(ctx context.Context, rule *models.AlertRule, e *models.Event) (bool, error) {
	switch c := rule.Condition.(type) {
	case models.ThresholdCondition:
		return ev.matchThreshold(ctx, c, e)
	case models.NewErrorCondition:
		return ev.matchNewError(ctx, e)
	case models.PatternMatchCondition:
		re := ev.compile(c.Pattern)
		return re != nil && re.MatchString(e.Message), nil
	default:
		return false, nil
	}
}

// matchThreshold counts events sharing the fingerprint in
// [timestamp-window, timestamp]. The triggering event is already stored and
// is part of the count.
func (ev *Evaluator) matchThreshold(ctx context.Context, c models.ThresholdCondition, e *models.Event) (bool, error) {
	if c.Count <= 0 {
		return false, nil
	}
	window := c.Window
	if window <= 0 {
		window = models.DefaultThresholdWindow
	}
	n, err := ev.store.CountEvents(ctx, store.EventFilter{
		ProjectIDs:  []uuid.UUID{e.ProjectID},
		Fingerprint: e.Fingerprint,
		Since:       e.Timestamp.Add(-window),
		Until:       e.Timestamp,
	})
	if err != nil {
		return false, err
	}
	return n >= c.Count, nil
}

func (ev *Evaluator) matchNewError(ctx context.Context, e *models.Event) (bool, error) {
	if !e.Level.IsErrorOrWorse() {
		return false, nil
	}
	seen, err := ev.store.HasEarlierEvents(ctx, e)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// compile returns the cached expression for pattern, or nil when pattern is
// not a valid regular expression.
func (ev *Evaluator) compile(pattern string) *regexp.Regexp {
	if re, ok := ev.regexes.Get(pattern); ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		ev.logger.Debug("invalid pattern_match expression", "pattern", pattern, "error", err)
		re = nil
	}
	ev.regexes.Add(pattern, re)
	return re
}
