// Package issues derives issues from stored events and tracks their triage state.
package issues

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// Store is the subset of the data layer the issue service needs.
type Store interface {
	store.IssueStore
	ListEvents(ctx context.Context, filter store.EventFilter) ([]*models.Event, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(s Store) *Service {
	return &Service{store: s, now: time.Now}
}

// List returns issues ordered by last_seen descending. A status filter is
// applied before pagination.
func (s *Service) List(ctx context.Context, filter store.IssueFilter) ([]*models.Issue, error) {
	return s.store.ListIssues(ctx, filter)
}

// Count returns the number of distinct fingerprints matching filter.
func (s *Service) Count(ctx context.Context, filter store.IssueFilter) (int, error) {
	return s.store.CountIssues(ctx, filter)
}

// Get returns the issue detail for fingerprint, or store.ErrNotFound when no
// event carries it.
func (s *Service) Get(ctx context.Context, projectID uuid.UUID, fingerprint string) (*models.Issue, error) {
	return s.store.GetIssue(ctx, projectID, fingerprint)
}

// Events returns the events grouped under fingerprint, newest first.
func (s *Service) Events(ctx context.Context, projectID uuid.UUID, fingerprint string, limit, offset int) ([]*models.Event, error) {
	return s.store.ListEvents(ctx, store.EventFilter{
		ProjectIDs:  []uuid.UUID{projectID},
		Fingerprint: fingerprint,
		Limit:       limit,
		Offset:      offset,
	})
}

// UpdateStatus moves an issue to status from any state. resolved_at and
// ignored_at are set when entering that state and cleared otherwise.
func (s *Service) UpdateStatus(ctx context.Context, projectID uuid.UUID, fingerprint string, status models.IssueState) (*models.IssueStatus, error) {
	if _, err := models.ParseIssueState(string(status)); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	st := &models.IssueStatus{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Fingerprint: fingerprint,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch status {
	case models.IssueResolved:
		st.ResolvedAt = &now
	case models.IssueIgnored:
		st.IgnoredAt = &now
	}
	return s.store.UpsertIssueStatus(ctx, st)
}

// Stats summarizes issues for the project set. Total honours since; the
// resolved and ignored counts cover every status row regardless of time.
func (s *Service) Stats(ctx context.Context, projectIDs []uuid.UUID, since time.Time) (*models.IssueStats, error) {
	total, err := s.store.CountIssues(ctx, store.IssueFilter{
		EventFilter: store.EventFilter{ProjectIDs: projectIDs, Since: since},
	})
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountIssueStatuses(ctx, projectIDs)
	if err != nil {
		return nil, err
	}

	stats := &models.IssueStats{
		Total:    total,
		Resolved: counts[models.IssueResolved],
		Ignored:  counts[models.IssueIgnored],
	}
	stats.Unresolved = max(total-stats.Resolved-stats.Ignored, 0)
	return stats, nil
}
