package alerting

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules(t *testing.T) {
	doc := `
rules:
  - name: payment failures
    condition_type: pattern_match
    condition_config:
      pattern: "^payment"
    webhook_url: https://hooks.example.com/payments
  - name: error burst
    condition_type: threshold
    condition_config:
      count: 10
      window: 5m
    webhook_url: https://hooks.example.com/burst
    enabled: false
  - name: new errors
    condition_type: new_error
    webhook_url: https://hooks.example.com/new
`
	projectID := uuid.New()
	rules, err := ParseRules(strings.NewReader(doc), projectID)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, models.PatternMatchCondition{Pattern: "^payment"}, rules[0].Condition)
	assert.True(t, rules[0].Enabled)
	assert.Equal(t, projectID, rules[0].ProjectID)

	assert.Equal(t, models.ThresholdCondition{Count: 10, Window: 5 * time.Minute}, rules[1].Condition)
	assert.False(t, rules[1].Enabled)

	assert.Equal(t, models.NewErrorCondition{}, rules[2].Condition)
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown condition", "rules:\n  - name: x\n    condition_type: bogus\n    webhook_url: https://h.example.com\n"},
		{"missing name", "rules:\n  - condition_type: new_error\n    webhook_url: https://h.example.com\n"},
		{"bad url", "rules:\n  - name: x\n    condition_type: new_error\n    webhook_url: ftp://h.example.com\n"},
		{"unknown field", "rules:\n  - name: x\n    condition: new_error\n"},
		{"zero threshold count", "rules:\n  - name: x\n    condition_type: threshold\n    condition_config:\n      count: 0\n    webhook_url: https://h.example.com\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules(strings.NewReader(tt.doc), uuid.New())
			assert.Error(t, err)
		})
	}
}

func TestParseRules_Empty(t *testing.T) {
	rules, err := ParseRules(strings.NewReader(""), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, rules)
}
