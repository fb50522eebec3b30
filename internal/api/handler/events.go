package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/snowdamiz/pulsekit/internal/api/middleware"
	"github.com/snowdamiz/pulsekit/internal/api/response"
	"github.com/snowdamiz/pulsekit/internal/events"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

const (
	maxEventBody = 1 << 20
	maxBatchBody = 16 << 20
)

// EventService is the event surface the handlers depend on.
type EventService interface {
	Create(ctx context.Context, projectID uuid.UUID, in events.Input) (*models.Event, error)
	CreateBatch(ctx context.Context, projectID uuid.UUID, entries []json.RawMessage) (int, error)
	Get(ctx context.Context, projectIDs []uuid.UUID, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context, filter store.EventFilter) ([]*models.Event, error)
	Count(ctx context.Context, filter store.EventFilter) (int, error)
	Stats(ctx context.Context, projectIDs []uuid.UUID, since time.Time) (map[models.Level]int, error)
	RecentTypes(ctx context.Context, projectIDs []uuid.UUID, since time.Time, limit int) ([]models.TypeCount, error)
	Environments(ctx context.Context, projectIDs []uuid.UUID) ([]string, error)
	Timeline(ctx context.Context, projectIDs []uuid.UUID, rangeName string, level models.Level) ([]models.TimelineBucket, error)
}

// NewCreateEventHandler returns an http.HandlerFunc for POST /api/v1/events.
func NewCreateEventHandler(svc EventService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			writeError(w, r, errNoProject)
			return
		}

		var in events.Input
		if err := decodeBody(w, r, maxEventBody, &in); err != nil {
			badRequest(w, err.Error())
			return
		}

		e, err := svc.Create(r.Context(), projectID, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, e)
	}
}

// NewCreateBatchHandler returns an http.HandlerFunc for POST /api/v1/events/batch.
// Entries are passed through undecoded so one malformed entry cannot reject
// the batch; the response reports how many were stored.
func NewCreateBatchHandler(svc EventService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			writeError(w, r, errNoProject)
			return
		}

		var req struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := decodeBody(w, r, maxBatchBody, &req); err != nil {
			badRequest(w, err.Error())
			return
		}

		count, err := svc.CreateBatch(r.Context(), projectID, req.Events)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Status(w, http.StatusAccepted, map[string]int{"count": count})
	}
}

// NewListEventsHandler returns an http.HandlerFunc for GET /api/v1/events and
// its workspace variant.
func NewListEventsHandler(svc EventService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter, err := parseEventFilter(r, ids)
		if err != nil {
			writeError(w, r, err)
			return
		}

		list, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		total, err := svc.Count(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, list, response.NewPaginationMeta(filter.Limit, filter.Offset, total))
	}
}

// NewCountEventsHandler returns an http.HandlerFunc for GET /api/v1/events/count.
func NewCountEventsHandler(svc EventService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter, err := parseEventFilter(r, ids)
		if err != nil {
			writeError(w, r, err)
			return
		}
		total, err := svc.Count(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]int{"count": total})
	}
}

// NewGetEventHandler returns an http.HandlerFunc for GET /api/v1/events/{eventID}.
func NewGetEventHandler(svc EventService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, chi.URLParam(r, "eventID"), "eventID")
		if !ok {
			return
		}
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		e, err := svc.Get(r.Context(), ids, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, e)
	}
}

// NewEventStatsHandler returns an http.HandlerFunc for GET /api/v1/events/stats.
func NewEventStatsHandler(svc EventService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		since, err := parseSince(r, "since", time.Now(), defaultStatsWindow)
		if err != nil {
			writeError(w, r, err)
			return
		}
		stats, err := svc.Stats(r.Context(), ids, since)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, stats)
	}
}

// NewEventTypesHandler returns an http.HandlerFunc for GET /api/v1/events/types.
func NewEventTypesHandler(svc EventService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		since, err := parseSince(r, "since", time.Now(), defaultStatsWindow)
		if err != nil {
			writeError(w, r, err)
			return
		}
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 1 {
				writeError(w, r, &events.ValidationError{Field: "limit", Message: "must be a positive integer"})
				return
			}
			limit = min(limit, 100)
		}

		types, err := svc.RecentTypes(r.Context(), ids, since, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, types)
	}
}

// NewTimelineHandler returns an http.HandlerFunc for GET /api/v1/events/timeline.
func NewTimelineHandler(svc EventService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var level models.Level
		if v := r.URL.Query().Get("level"); v != "" {
			if level, err = models.ParseLevel(v); err != nil {
				writeError(w, r, &events.ValidationError{Field: "level", Message: err.Error()})
				return
			}
		}

		buckets, err := svc.Timeline(r.Context(), ids, r.URL.Query().Get("range"), level)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, buckets)
	}
}

// NewEnvironmentsHandler returns an http.HandlerFunc for GET /api/v1/events/environments.
func NewEnvironmentsHandler(svc EventService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		envs, err := svc.Environments(r.Context(), ids)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, envs)
	}
}

// decodeBody reads at most limit bytes of JSON into v.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
