package alerting

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML document accepted by `pulsekit rules import`.
//
//	rules:
//	  - name: payment failures
//	    condition_type: pattern_match
//	    condition_config:
//	      pattern: "^payment"
//	    webhook_url: https://hooks.example.com/alerts
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

type RuleSpec struct {
	Name            string         `yaml:"name"`
	ConditionType   string         `yaml:"condition_type"`
	ConditionConfig map[string]any `yaml:"condition_config"`
	WebhookURL      string         `yaml:"webhook_url"`
	Enabled         *bool          `yaml:"enabled"`
}

// ParseRules decodes a rule file and builds validated rules for projectID.
// Rules default to enabled. The first invalid rule aborts the parse.
func ParseRules(r io.Reader, projectID uuid.UUID) ([]*models.AlertRule, error) {
	var file RuleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse rule file: %w", err)
	}

	rules := make([]*models.AlertRule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		rule, err := spec.build(projectID)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, spec.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s RuleSpec) build(projectID uuid.UUID) (*models.AlertRule, error) {
	raw, err := json.Marshal(s.ConditionConfig)
	if err != nil {
		return nil, fmt.Errorf("condition_config: %w", err)
	}
	cond, err := models.DecodeCondition(models.ConditionType(s.ConditionType), raw)
	if err != nil {
		return nil, err
	}

	rule := &models.AlertRule{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Name:       s.Name,
		Condition:  cond,
		WebhookURL: s.WebhookURL,
		Enabled:    s.Enabled == nil || *s.Enabled,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}
