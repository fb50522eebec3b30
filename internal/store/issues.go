package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// issueWhere extends the event conditions with the status filter so that it
// applies before pagination.
func issueWhere(f IssueFilter) *whereClause {
	w := eventWhere(f.EventFilter, "e")
	if f.Status != "" {
		w.add("COALESCE(s.status, 'unresolved') = $%[1]d", string(f.Status))
	}
	return w
}

const issueJoin = `FROM events e
	LEFT JOIN issue_statuses s ON s.project_id = e.project_id AND s.fingerprint = e.fingerprint`

// ListIssues groups matching events by (project, fingerprint, type, level),
// newest last_seen first.
func (s *PostgresStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, error) {
	w := issueWhere(filter)
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	query := fmt.Sprintf(
		`SELECT e.project_id, e.fingerprint, e.type, e.level, COUNT(*), MIN(e.timestamp), MAX(e.timestamp),
		   (SELECT m.message FROM events m
		     WHERE m.project_id = e.project_id AND m.fingerprint = e.fingerprint
		     ORDER BY m.timestamp DESC LIMIT 1),
		   COALESCE(s.status, 'unresolved')
		 %s
		 WHERE %s
		 GROUP BY e.project_id, e.fingerprint, e.type, e.level, s.status
		 ORDER BY MAX(e.timestamp) DESC, e.fingerprint
		 LIMIT $%d OFFSET $%d`,
		issueJoin, w, w.next(), w.next()+1)
	args := append(w.args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	issues := []*models.Issue{}
	for rows.Next() {
		var (
			is      models.Issue
			level   string
			status  string
			message *string
		)
		if err := rows.Scan(&is.ProjectID, &is.Fingerprint, &is.Type, &level, &is.Count,
			&is.FirstSeen, &is.LastSeen, &message, &status); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		is.Level = models.Level(level)
		is.Status = models.IssueState(status)
		is.LastMessage = deref(message)
		issues = append(issues, &is)
	}
	return issues, rows.Err()
}

// CountIssues returns the number of distinct (project, fingerprint) pairs
// matching filter.
func (s *PostgresStore) CountIssues(ctx context.Context, filter IssueFilter) (int, error) {
	w := issueWhere(filter)
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM (SELECT DISTINCT e.project_id, e.fingerprint %s WHERE %s) AS fingerprints`,
		issueJoin, w)

	var n int
	if err := s.pool.QueryRow(ctx, query, w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return n, nil
}

// GetIssue aggregates every event for the fingerprint. Type, level and message
// come from the most recent event.
func (s *PostgresStore) GetIssue(ctx context.Context, projectID uuid.UUID, fingerprint string) (*models.Issue, error) {
	var (
		is      models.Issue
		level   string
		status  string
		message *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT l.type, l.level, l.message, a.cnt, a.first_seen, a.last_seen, a.envs,
		        COALESCE(s.status, 'unresolved')
		 FROM (SELECT COUNT(*) AS cnt, MIN(timestamp) AS first_seen, MAX(timestamp) AS last_seen,
		              COALESCE(array_agg(DISTINCT environment ORDER BY environment)
		                       FILTER (WHERE environment IS NOT NULL), '{}'::text[]) AS envs
		       FROM events WHERE project_id = $1 AND fingerprint = $2) a
		 CROSS JOIN LATERAL (SELECT type, level, message FROM events
		                     WHERE project_id = $1 AND fingerprint = $2
		                     ORDER BY timestamp DESC LIMIT 1) l
		 LEFT JOIN issue_statuses s ON s.project_id = $1 AND s.fingerprint = $2`,
		projectID, fingerprint,
	).Scan(&is.Type, &level, &message, &is.Count, &is.FirstSeen, &is.LastSeen, &is.Environments, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	is.ProjectID = projectID
	is.Fingerprint = fingerprint
	is.Level = models.Level(level)
	is.Status = models.IssueState(status)
	is.LastMessage = deref(message)
	return &is, nil
}

// UpsertIssueStatus creates or replaces the status row for
// (ProjectID, Fingerprint).
func (s *PostgresStore) UpsertIssueStatus(ctx context.Context, st *models.IssueStatus) (*models.IssueStatus, error) {
	var result models.IssueStatus
	var status string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO issue_statuses (id, project_id, fingerprint, status, resolved_at, ignored_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project_id, fingerprint) DO UPDATE SET
		   status = EXCLUDED.status,
		   resolved_at = EXCLUDED.resolved_at,
		   ignored_at = EXCLUDED.ignored_at,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, project_id, fingerprint, status, resolved_at, ignored_at, created_at, updated_at`,
		st.ID, st.ProjectID, st.Fingerprint, string(st.Status), st.ResolvedAt, st.IgnoredAt,
		st.CreatedAt, st.UpdatedAt,
	).Scan(&result.ID, &result.ProjectID, &result.Fingerprint, &status, &result.ResolvedAt,
		&result.IgnoredAt, &result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert issue status: %w", err)
	}
	result.Status = models.IssueState(status)
	return &result, nil
}

func (s *PostgresStore) CountIssueStatuses(ctx context.Context, projectIDs []uuid.UUID) (map[models.IssueState]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM issue_statuses WHERE project_id = ANY($1) GROUP BY status`, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("count issue statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.IssueState]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.IssueState(status)] = n
	}
	return counts, rows.Err()
}
