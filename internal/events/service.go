// Package events implements event ingestion and the event query surface.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/metrics"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// MaxBatchSize bounds the number of entries accepted in one batch request.
const MaxBatchSize = 1000

// Publisher announces newly stored events to live subscribers.
type Publisher interface {
	PublishEvent(ctx context.Context, e *models.Event)
	PublishBatch(ctx context.Context, projectID uuid.UUID, count int)
}

// Evaluator checks a newly stored event against alert rules.
type Evaluator interface {
	Evaluate(ctx context.Context, e *models.Event)
}

// Service writes and queries events. Fanout and alert evaluation run in the
// background and never affect the outcome of a write.
type Service struct {
	store     store.EventStore
	publisher Publisher
	evaluator Evaluator
	logger    *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewService creates a Service. publisher and evaluator may be nil.
func NewService(s store.EventStore, publisher Publisher, evaluator Evaluator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		publisher: publisher,
		evaluator: evaluator,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates, enriches and stores a single event, then fans it out and
// evaluates alert rules against it.
func (s *Service) Create(ctx context.Context, projectID uuid.UUID, in Input) (*models.Event, error) {
	now := s.now().UTC()
	e, err := build(projectID, in, now.Truncate(time.Second), now)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("single").Inc()
		return nil, err
	}

	if err := s.store.InsertEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}
	metrics.EventsIngested.WithLabelValues("single").Inc()

	bg := context.WithoutCancel(ctx)
	if s.publisher != nil {
		s.goBackground(func() { s.publisher.PublishEvent(bg, e) })
	}
	if s.evaluator != nil {
		s.goBackground(func() { s.evaluator.Evaluate(bg, e) })
	}
	return e, nil
}

// CreateBatch stores every valid entry in one bulk insert and returns the
// number stored. Entries are decoded one by one; malformed or invalid entries
// are dropped. A single batch notification is published and alert rules are
// not evaluated.
func (s *Service) CreateBatch(ctx context.Context, projectID uuid.UUID, entries []json.RawMessage) (int, error) {
	if len(entries) > MaxBatchSize {
		return 0, &ValidationError{Field: "events", Message: fmt.Sprintf("at most %d events per batch", MaxBatchSize)}
	}

	now := s.now().UTC()
	batchTS := now.Truncate(time.Second)
	valid := make([]*models.Event, 0, len(entries))
	for _, raw := range entries {
		var in Input
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		e, err := build(projectID, in, batchTS, now)
		if err != nil {
			continue
		}
		valid = append(valid, e)
	}
	if dropped := len(entries) - len(valid); dropped > 0 {
		metrics.EventsRejected.WithLabelValues("batch").Add(float64(dropped))
		s.logger.Debug("dropped invalid batch entries", "project_id", projectID, "dropped", dropped)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	n, err := s.store.InsertEvents(ctx, valid)
	if err != nil {
		return 0, fmt.Errorf("store batch: %w", err)
	}
	metrics.EventsIngested.WithLabelValues("batch").Add(float64(n))

	if s.publisher != nil {
		bg := context.WithoutCancel(ctx)
		count := int(n)
		s.goBackground(func() { s.publisher.PublishBatch(bg, projectID, count) })
	}
	return int(n), nil
}

// Wait blocks until background fanout and alert work has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in event background task", "error", r)
			}
		}()
		fn()
	}()
}

// --- Queries ---

func (s *Service) Get(ctx context.Context, projectIDs []uuid.UUID, id uuid.UUID) (*models.Event, error) {
	return s.store.GetEvent(ctx, id, projectIDs)
}

// List returns matching events newest first.
func (s *Service) List(ctx context.Context, filter store.EventFilter) ([]*models.Event, error) {
	return s.store.ListEvents(ctx, filter)
}

func (s *Service) Count(ctx context.Context, filter store.EventFilter) (int, error) {
	return s.store.CountEvents(ctx, filter)
}

// Stats counts events per level since the given time. Every level is present.
func (s *Service) Stats(ctx context.Context, projectIDs []uuid.UUID, since time.Time) (map[models.Level]int, error) {
	counts, err := s.store.CountEventsByLevel(ctx, projectIDs, since)
	if err != nil {
		return nil, err
	}
	stats := make(map[models.Level]int, len(models.Levels))
	for _, l := range models.Levels {
		stats[l] = counts[l]
	}
	return stats, nil
}

// RecentTypes returns the most frequent event types since the given time.
func (s *Service) RecentTypes(ctx context.Context, projectIDs []uuid.UUID, since time.Time, limit int) ([]models.TypeCount, error) {
	return s.store.RecentEventTypes(ctx, projectIDs, since, limit)
}

// Environments returns the distinct environments observed, sorted.
func (s *Service) Environments(ctx context.Context, projectIDs []uuid.UUID) ([]string, error) {
	return s.store.ListEnvironments(ctx, projectIDs)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
