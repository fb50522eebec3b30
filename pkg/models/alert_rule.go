package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConditionType names the kind of condition an alert rule evaluates.
type ConditionType string

const (
	ConditionThreshold    ConditionType = "threshold"
	ConditionNewError     ConditionType = "new_error"
	ConditionPatternMatch ConditionType = "pattern_match"
)

// DefaultThresholdWindow applies when a threshold condition omits its window.
const DefaultThresholdWindow = 60 * time.Minute

var (
	ErrUnknownCondition = errors.New("unknown condition type")
	ErrInvalidCondition = errors.New("invalid condition config")
	ErrInvalidRule      = errors.New("invalid alert rule")
)

// Condition is one of ThresholdCondition, NewErrorCondition or
// PatternMatchCondition.
type Condition interface {
	Type() ConditionType
}

// ThresholdCondition fires when at least Count events sharing a fingerprint
// occurred within Window of the triggering event.
type ThresholdCondition struct {
	Count  int
	Window time.Duration
}

func (ThresholdCondition) Type() ConditionType { return ConditionThreshold }

type thresholdWire struct {
	Count  int             `json:"count"`
	Window json.RawMessage `json:"window,omitempty"`
}

func (c ThresholdCondition) MarshalJSON() ([]byte, error) {
	w, err := json.Marshal(c.Window.String())
	if err != nil {
		return nil, err
	}
	return json.Marshal(thresholdWire{Count: c.Count, Window: w})
}

func (c *ThresholdCondition) UnmarshalJSON(b []byte) error {
	var w thresholdWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	window, err := parseWindow(w.Window)
	if err != nil {
		return err
	}
	c.Count = w.Count
	c.Window = window
	return nil
}

// parseWindow accepts a Go duration string ("5m") or a bare number of minutes.
func parseWindow(raw json.RawMessage) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultThresholdWindow, nil
	}
	var minutes float64
	if err := json.Unmarshal(raw, &minutes); err == nil {
		return minutesToDuration(minutes)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: window must be a duration or number of minutes", ErrInvalidCondition)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultThresholdWindow, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return minutesToDuration(n)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: window %q", ErrInvalidCondition, s)
	}
	return d, nil
}

func minutesToDuration(m float64) (time.Duration, error) {
	if m <= 0 {
		return 0, fmt.Errorf("%w: window must be positive", ErrInvalidCondition)
	}
	return time.Duration(m * float64(time.Minute)), nil
}

// NewErrorCondition fires on the first error- or fatal-level occurrence of a
// fingerprint.
type NewErrorCondition struct{}

func (NewErrorCondition) Type() ConditionType { return ConditionNewError }

// PatternMatchCondition fires when the event message matches Pattern.
type PatternMatchCondition struct {
	Pattern string `json:"pattern"`
}

func (PatternMatchCondition) Type() ConditionType { return ConditionPatternMatch }

// DecodeCondition builds the condition variant named by t from its JSON config.
func DecodeCondition(t ConditionType, raw []byte) (Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	switch t {
	case ConditionThreshold:
		var c ThresholdCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}
		return c, nil
	case ConditionNewError:
		return NewErrorCondition{}, nil
	case ConditionPatternMatch:
		var c PatternMatchCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, t)
	}
}

// EncodeCondition returns the JSON config persisted alongside the condition type.
func EncodeCondition(c Condition) ([]byte, error) {
	if _, ok := c.(NewErrorCondition); ok {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// AlertRule binds a condition to a webhook for one project.
type AlertRule struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	Name       string
	Condition  Condition
	WebhookURL string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type alertRuleWire struct {
	ID              uuid.UUID       `json:"id"`
	ProjectID       uuid.UUID       `json:"project_id"`
	Name            string          `json:"name"`
	ConditionType   ConditionType   `json:"condition_type"`
	ConditionConfig json.RawMessage `json:"condition_config"`
	WebhookURL      string          `json:"webhook_url"`
	Enabled         bool            `json:"enabled"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r AlertRule) MarshalJSON() ([]byte, error) {
	w := alertRuleWire{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		Name:       r.Name,
		WebhookURL: r.WebhookURL,
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Condition != nil {
		cfg, err := EncodeCondition(r.Condition)
		if err != nil {
			return nil, err
		}
		w.ConditionType = r.Condition.Type()
		w.ConditionConfig = cfg
	}
	return json.Marshal(w)
}

// Validate checks the fields required before a rule is persisted.
func (r *AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Condition == nil {
		return fmt.Errorf("%w: condition is required", ErrInvalidRule)
	}
	if c, ok := r.Condition.(ThresholdCondition); ok && c.Count < 1 {
		return fmt.Errorf("%w: threshold count must be at least 1", ErrInvalidCondition)
	}
	if err := ValidateWebhookURL(r.WebhookURL); err != nil {
		return err
	}
	return nil
}

// ValidateWebhookURL requires an absolute http or https URL with a host.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: webhook_url must be an absolute http(s) URL", ErrInvalidRule)
	}
	return nil
}
