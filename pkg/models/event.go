// Package models contains shared data models used across the PulseKit codebase.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an event.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// Levels lists every valid level, lowest severity first.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelFatal}

var ErrInvalidLevel = errors.New("invalid level")

// ParseLevel validates a level string. An empty string yields LevelInfo.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelInfo, nil
	}
	for _, l := range Levels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q must be one of %s", ErrInvalidLevel, s, levelList())
}

// IsErrorOrWorse reports whether l is error or fatal.
func (l Level) IsErrorOrWorse() bool {
	return l == LevelError || l == LevelFatal
}

func levelList() string {
	names := make([]string, len(Levels))
	for i, l := range Levels {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

// Event is a single fact reported by an SDK. Events are immutable once written.
type Event struct {
	ID          uuid.UUID         `db:"id"          json:"id"`
	ProjectID   uuid.UUID         `db:"project_id"  json:"project_id"`
	Type        string            `db:"type"        json:"type"`
	Level       Level             `db:"level"       json:"level"`
	Message     string            `db:"message"     json:"message,omitempty"`
	Metadata    map[string]any    `db:"metadata"    json:"metadata,omitempty"`
	Stacktrace  json.RawMessage   `db:"stacktrace"  json:"stacktrace,omitempty"`
	Environment string            `db:"environment" json:"environment,omitempty"`
	Release     string            `db:"release"     json:"release,omitempty"`
	Tags        map[string]string `db:"tags"        json:"tags,omitempty"`
	Fingerprint string            `db:"fingerprint" json:"fingerprint"`
	Timestamp   time.Time         `db:"timestamp"   json:"timestamp"`
	InsertedAt  time.Time         `db:"inserted_at" json:"inserted_at"`
	UpdatedAt   time.Time         `db:"updated_at"  json:"updated_at"`
}

// TypeCount is the number of events observed for one event type.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TimelineBucket counts events whose timestamp falls in [Start, Start+width).
type TimelineBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}
