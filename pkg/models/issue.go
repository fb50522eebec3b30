package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IssueState is the triage state of an issue.
type IssueState string

const (
	IssueUnresolved IssueState = "unresolved"
	IssueResolved   IssueState = "resolved"
	IssueIgnored    IssueState = "ignored"
)

var ErrInvalidStatus = errors.New("invalid issue status")

// ParseIssueState validates a status string.
func ParseIssueState(s string) (IssueState, error) {
	switch IssueState(s) {
	case IssueUnresolved, IssueResolved, IssueIgnored:
		return IssueState(s), nil
	default:
		return "", fmt.Errorf("%w: %q must be one of unresolved, resolved, ignored", ErrInvalidStatus, s)
	}
}

// IssueStatus is the persisted triage state for a (project, fingerprint) pair.
// A missing row means the issue is unresolved.
type IssueStatus struct {
	ID          uuid.UUID  `db:"id"          json:"id"`
	ProjectID   uuid.UUID  `db:"project_id"  json:"project_id"`
	Fingerprint string     `db:"fingerprint" json:"fingerprint"`
	Status      IssueState `db:"status"      json:"status"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	IgnoredAt   *time.Time `db:"ignored_at"  json:"ignored_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"  json:"updated_at"`
}

// Issue is a computed view over the events sharing a fingerprint. It is
// never persisted.
type Issue struct {
	ProjectID    uuid.UUID  `json:"project_id"`
	Fingerprint  string     `json:"fingerprint"`
	Type         string     `json:"type"`
	Level        Level      `json:"level"`
	Count        int        `json:"count"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	LastMessage  string     `json:"last_message,omitempty"`
	Environments []string   `json:"environments,omitempty"`
	Status       IssueState `json:"status"`
}

// IssueStats summarizes issue triage across one or more projects.
type IssueStats struct {
	Total      int `json:"total"`
	Unresolved int `json:"unresolved"`
	Resolved   int `json:"resolved"`
	Ignored    int `json:"ignored"`
}
