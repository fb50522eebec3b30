package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

const eventColumns = `id, project_id, type, level, message, metadata, stacktrace,
	environment, release, tags, fingerprint, timestamp, inserted_at, updated_at`

func (s *PostgresStore) InsertEvent(ctx context.Context, e *models.Event) error {
	row, err := eventRow(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`, row...)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertEvents bulk-loads events with COPY.
func (s *PostgresStore) InsertEvents(ctx context.Context, events []*models.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		row, err := eventRow(e)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"events"},
		[]string{"id", "project_id", "type", "level", "message", "metadata", "stacktrace",
			"environment", "release", "tags", "fingerprint", "timestamp", "inserted_at", "updated_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy events: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID, projectIDs []uuid.UUID) (*models.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND project_id = ANY($2)`, id, projectIDs)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	w := eventWhere(filter, "e")
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	query := fmt.Sprintf(
		`SELECT %s FROM events e WHERE %s ORDER BY e.timestamp DESC, e.id DESC LIMIT $%d OFFSET $%d`,
		eventColumns, w, w.next(), w.next()+1)
	args := append(w.args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CountEvents(ctx context.Context, filter EventFilter) (int, error) {
	w := eventWhere(filter, "e")
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events e WHERE "+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// HasEarlierEvents reports whether an event with e's fingerprint was stored
// before e. Arrival order is (inserted_at, id), so of any group exactly one
// event has no predecessor.
func (s *PostgresStore) HasEarlierEvents(ctx context.Context, e *models.Event) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM events
			WHERE project_id = $1 AND fingerprint = $2 AND (inserted_at, id) < ($3, $4)
		)`,
		e.ProjectID, e.Fingerprint, e.InsertedAt, e.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check fingerprint history: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CountEventsByLevel(ctx context.Context, projectIDs []uuid.UUID, since time.Time) (map[models.Level]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT level, COUNT(*) FROM events WHERE project_id = ANY($1) AND timestamp >= $2 GROUP BY level`,
		projectIDs, since)
	if err != nil {
		return nil, fmt.Errorf("count events by level: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Level]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan level count: %w", err)
		}
		counts[models.Level(level)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) RecentEventTypes(ctx context.Context, projectIDs []uuid.UUID, since time.Time, limit int) ([]models.TypeCount, error) {
	limit, _ = normalizePage(limit, 0)
	rows, err := s.pool.Query(ctx,
		`SELECT type, COUNT(*) AS n FROM events
		 WHERE project_id = ANY($1) AND timestamp >= $2
		 GROUP BY type ORDER BY n DESC, type LIMIT $3`,
		projectIDs, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent event types: %w", err)
	}
	defer rows.Close()

	types := []models.TypeCount{}
	for rows.Next() {
		var tc models.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		types = append(types, tc)
	}
	return types, rows.Err()
}

// EventTimeline counts matching events per bucket of the given width, keyed
// by bucket index counted from filter.Since. filter.Since must be set.
func (s *PostgresStore) EventTimeline(ctx context.Context, filter EventFilter, width time.Duration) (map[int]int, error) {
	if filter.Since.IsZero() {
		return nil, errors.New("event timeline: since is required")
	}
	w := eventWhere(filter, "e")
	query := fmt.Sprintf(
		`SELECT FLOOR(EXTRACT(EPOCH FROM (e.timestamp - $%d::timestamptz))::float8 / $%d::float8)::int AS bucket, COUNT(*)
		 FROM events e WHERE %s GROUP BY bucket`,
		w.next(), w.next()+1, w)
	args := append(w.args, filter.Since, width.Seconds())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("event timeline: %w", err)
	}
	defer rows.Close()

	buckets := make(map[int]int)
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, fmt.Errorf("scan timeline bucket: %w", err)
		}
		buckets[idx] = n
	}
	return buckets, rows.Err()
}

func (s *PostgresStore) ListEnvironments(ctx context.Context, projectIDs []uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT environment FROM events
		 WHERE project_id = ANY($1) AND environment IS NOT NULL ORDER BY environment`, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	envs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan environments: %w", err)
	}
	if envs == nil {
		envs = []string{}
	}
	return envs, nil
}

// DeleteEventsBefore removes every event with timestamp < cutoff and returns
// the number deleted.
func (s *PostgresStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// eventRow returns the column values for eventColumns, encoding structured
// fields as JSON and empty strings as NULL.
func eventRow(e *models.Event) ([]any, error) {
	metadata, err := jsonOrNil(e.Metadata, len(e.Metadata) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	tags, err := jsonOrNil(e.Tags, len(e.Tags) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	var stacktrace []byte
	if len(e.Stacktrace) > 0 && string(e.Stacktrace) != "null" {
		stacktrace = []byte(e.Stacktrace)
	}
	return []any{
		e.ID, e.ProjectID, e.Type, string(e.Level), nullString(e.Message), metadata, stacktrace,
		nullString(e.Environment), nullString(e.Release), tags, e.Fingerprint,
		e.Timestamp, e.InsertedAt, e.UpdatedAt,
	}, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		e                             models.Event
		level                         string
		message, environment, release *string
		metadata, stacktrace, tags    []byte
	)
	err := row.Scan(&e.ID, &e.ProjectID, &e.Type, &level, &message, &metadata, &stacktrace,
		&environment, &release, &tags, &e.Fingerprint, &e.Timestamp, &e.InsertedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Level = models.Level(level)
	e.Message = deref(message)
	e.Environment = deref(environment)
	e.Release = deref(release)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(stacktrace) > 0 {
		e.Stacktrace = json.RawMessage(stacktrace)
	}
	return &e, nil
}

func jsonOrNil(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
