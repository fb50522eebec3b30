package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	ProjectStore
	EventStore
	IssueStore
	AlertRuleStore
	SettingStore
}

// ProjectStore resolves projects, organizations and API keys.
type ProjectStore interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjectIDs(ctx context.Context, organizationID uuid.UUID) ([]uuid.UUID, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	CreateProject(ctx context.Context, project *models.Project) error

	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// EventStore is the durable event log.
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.Event) error
	InsertEvents(ctx context.Context, events []*models.Event) (int64, error)
	GetEvent(ctx context.Context, id uuid.UUID, projectIDs []uuid.UUID) (*models.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error)
	CountEvents(ctx context.Context, filter EventFilter) (int, error)
	HasEarlierEvents(ctx context.Context, e *models.Event) (bool, error)
	CountEventsByLevel(ctx context.Context, projectIDs []uuid.UUID, since time.Time) (map[models.Level]int, error)
	RecentEventTypes(ctx context.Context, projectIDs []uuid.UUID, since time.Time, limit int) ([]models.TypeCount, error)
	EventTimeline(ctx context.Context, filter EventFilter, width time.Duration) (map[int]int, error)
	ListEnvironments(ctx context.Context, projectIDs []uuid.UUID) ([]string, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IssueStore aggregates events into issues and persists triage state.
type IssueStore interface {
	ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, error)
	CountIssues(ctx context.Context, filter IssueFilter) (int, error)
	GetIssue(ctx context.Context, projectID uuid.UUID, fingerprint string) (*models.Issue, error)
	UpsertIssueStatus(ctx context.Context, status *models.IssueStatus) (*models.IssueStatus, error)
	CountIssueStatuses(ctx context.Context, projectIDs []uuid.UUID) (map[models.IssueState]int, error)
}

// AlertRuleStore persists per-project alert rules.
type AlertRuleStore interface {
	CreateAlertRule(ctx context.Context, rule *models.AlertRule) error
	UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error
	DeleteAlertRule(ctx context.Context, id, projectID uuid.UUID) error
	GetAlertRule(ctx context.Context, id, projectID uuid.UUID) (*models.AlertRule, error)
	ListAlertRules(ctx context.Context, projectID uuid.UUID) ([]*models.AlertRule, error)
	ListEnabledAlertRules(ctx context.Context, projectID uuid.UUID) ([]*models.AlertRule, error)
}

// SettingStore is a key/value table of instance settings.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// EventFilter selects events. All set fields are AND-combined.
// ProjectIDs is required; ProjectID narrows a multi-project set to one member.
type EventFilter struct {
	ProjectIDs  []uuid.UUID
	ProjectID   uuid.UUID
	Level       models.Level
	Type        string
	Search      string
	Environment string
	Fingerprint string
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

// IssueFilter selects issues. Status is applied before pagination.
type IssueFilter struct {
	EventFilter
	Status models.IssueState
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
