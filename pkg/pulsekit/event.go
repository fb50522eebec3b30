package pulsekit

import (
	"errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
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

// Event is the ingestion payload. Type is required by the server.
type Event struct {
	Type        string            `json:"type"`
	Level       Level             `json:"level,omitempty"`
	Message     string            `json:"message,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Stacktrace  []StackFrame      `json:"stacktrace,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Release     string            `json:"release,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
}

type StackFrame struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

// EventOption modifies an event before it is queued.
type EventOption func(*Event)

// WithTags merges tags into the event's tags.
func WithTags(tags map[string]string) EventOption {
	return func(e *Event) {
		if e.Tags == nil {
			e.Tags = make(map[string]string, len(tags))
		}
		maps.Copy(e.Tags, tags)
	}
}

// WithMetadata merges metadata into the event's metadata.
func WithMetadata(metadata map[string]any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(e.Metadata, metadata)
	}
}

func WithType(eventType string) EventOption {
	return func(e *Event) { e.Type = eventType }
}

func WithLevel(level Level) EventOption {
	return func(e *Event) { e.Level = level }
}

// WithFingerprint overrides server-side grouping for the event.
func WithFingerprint(fingerprint string) EventOption {
	return func(e *Event) { e.Fingerprint = fingerprint }
}

// errorType names the innermost error's concrete type, e.g. "*fs.PathError".
// Plain errors created with errors.New or fmt.Errorf report "error".
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	name := fmt.Sprintf("%T", err)
	if name == "*errors.errorString" || strings.HasPrefix(name, "*fmt.wrap") {
		return "error"
	}
	return name
}

func captureStack(skip int) []StackFrame {
	pcs := make([]uintptr, 50)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []StackFrame
	for {
		f, more := frames.Next()
		out = append(out, StackFrame{File: f.File, Line: f.Line, Function: f.Function})
		if !more {
			break
		}
	}
	return out
}
