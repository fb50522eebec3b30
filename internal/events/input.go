package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/fingerprint"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// Input is the ingestion payload for one event as sent by SDKs.
type Input struct {
	Type        string            `json:"type"`
	Level       string            `json:"level"`
	Message     string            `json:"message"`
	Metadata    map[string]any    `json:"metadata"`
	Stacktrace  json.RawMessage   `json:"stacktrace"`
	Tags        map[string]string `json:"tags"`
	Environment string            `json:"environment"`
	Release     string            `json:"release"`
	Timestamp   string            `json:"timestamp"`
	Fingerprint string            `json:"fingerprint"`
}

// UnmarshalJSON decodes an SDK payload. A timestamp that is not a JSON
// string is ignored so the server default applies.
func (in *Input) UnmarshalJSON(data []byte) error {
	type plain Input
	var wire struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*in = Input(wire.plain)
	in.Timestamp = ""
	var ts string
	if len(wire.Timestamp) > 0 && json.Unmarshal(wire.Timestamp, &ts) == nil {
		in.Timestamp = ts
	}
	return nil
}

// ValidationError reports a malformed ingestion payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Layouts accepted for client timestamps. Values without a zone are UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp returns the ISO-8601 time in s, or fallback when s is empty
// or unparsable.
func parseTimestamp(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return fallback
}

// build validates in and returns the event to store. defaultTS is used when
// the input carries no usable timestamp.
func build(projectID uuid.UUID, in Input, defaultTS, now time.Time) (*models.Event, error) {
	if strings.TrimSpace(in.Type) == "" {
		return nil, &ValidationError{Field: "type", Message: "is required"}
	}
	level, err := models.ParseLevel(in.Level)
	if err != nil {
		return nil, &ValidationError{Field: "level", Message: err.Error()}
	}

	stacktrace := in.Stacktrace
	if string(stacktrace) == "null" {
		stacktrace = nil
	}

	return &models.Event{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Type:        in.Type,
		Level:       level,
		Message:     in.Message,
		Metadata:    in.Metadata,
		Stacktrace:  stacktrace,
		Environment: in.Environment,
		Release:     in.Release,
		Tags:        in.Tags,
		Fingerprint: fingerprint.Resolve(in.Fingerprint, in.Type, in.Message),
		Timestamp:   parseTimestamp(in.Timestamp, defaultTS),
		InsertedAt:  now,
		UpdatedAt:   now,
	}, nil
}
