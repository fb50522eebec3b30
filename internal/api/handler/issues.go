package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/snowdamiz/pulsekit/internal/api/middleware"
	"github.com/snowdamiz/pulsekit/internal/api/response"
	"github.com/snowdamiz/pulsekit/internal/events"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// IssueService is the issue surface the handlers depend on.
type IssueService interface {
	List(ctx context.Context, filter store.IssueFilter) ([]*models.Issue, error)
	Count(ctx context.Context, filter store.IssueFilter) (int, error)
	Get(ctx context.Context, projectID uuid.UUID, fingerprint string) (*models.Issue, error)
	Events(ctx context.Context, projectID uuid.UUID, fingerprint string, limit, offset int) ([]*models.Event, error)
	UpdateStatus(ctx context.Context, projectID uuid.UUID, fingerprint string, status models.IssueState) (*models.IssueStatus, error)
	Stats(ctx context.Context, projectIDs []uuid.UUID, since time.Time) (*models.IssueStats, error)
}

func parseIssueFilter(r *http.Request, ids []uuid.UUID) (store.IssueFilter, error) {
	ef, err := parseEventFilter(r, ids)
	if err != nil {
		return store.IssueFilter{}, err
	}
	f := store.IssueFilter{EventFilter: ef}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := models.ParseIssueState(v)
		if err != nil {
			return f, &events.ValidationError{Field: "status", Message: err.Error()}
		}
		f.Status = status
	}
	return f, nil
}

// NewListIssuesHandler returns an http.HandlerFunc for GET /api/v1/issues and
// its workspace variant.
func NewListIssuesHandler(svc IssueService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter, err := parseIssueFilter(r, ids)
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

// NewCountIssuesHandler returns an http.HandlerFunc for GET /api/v1/issues/count.
func NewCountIssuesHandler(svc IssueService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter, err := parseIssueFilter(r, ids)
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

// NewIssueStatsHandler returns an http.HandlerFunc for GET /api/v1/issues/stats.
// Without ?since= every event counts toward total.
func NewIssueStatsHandler(svc IssueService, projects ProjectSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := projects(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		since, err := parseSince(r, "since", time.Now(), 0)
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

// NewGetIssueHandler returns an http.HandlerFunc for GET /api/v1/issues/{fingerprint}.
func NewGetIssueHandler(svc IssueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			writeError(w, r, errNoProject)
			return
		}
		issue, err := svc.Get(r.Context(), projectID, chi.URLParam(r, "fingerprint"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, issue)
	}
}

// NewIssueEventsHandler returns an http.HandlerFunc for
// GET /api/v1/issues/{fingerprint}/events.
func NewIssueEventsHandler(svc IssueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			writeError(w, r, errNoProject)
			return
		}
		limit, offset, err := parsePage(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		list, err := svc.Events(r.Context(), projectID, chi.URLParam(r, "fingerprint"), limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, list)
	}
}

// NewUpdateIssueStatusHandler returns an http.HandlerFunc for
// PUT /api/v1/issues/{fingerprint}/status.
func NewUpdateIssueStatusHandler(svc IssueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			writeError(w, r, errNoProject)
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := decodeBody(w, r, maxEventBody, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		status, err := models.ParseIssueState(req.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}

		st, err := svc.UpdateStatus(r.Context(), projectID, chi.URLParam(r, "fingerprint"), status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, st)
	}
}
