package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/snowdamiz/pulsekit/internal/api/middleware"
	"github.com/snowdamiz/pulsekit/internal/api/response"
	"github.com/snowdamiz/pulsekit/internal/events"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// defaultStatsWindow applies to stats and type queries without ?since=.
	defaultStatsWindow = 24 * time.Hour
)

// ProjectDirectory resolves projects and their organizations.
type ProjectDirectory interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjectIDs(ctx context.Context, organizationID uuid.UUID) ([]uuid.UUID, error)
}

// ProjectSet resolves the projects a read request covers.
type ProjectSet func(r *http.Request) ([]uuid.UUID, error)

// errNoProject means the request carried no authenticated project.
var errNoProject = errors.New("no authenticated project")

// SingleProject scopes reads to the API key's project.
func SingleProject() ProjectSet {
	return func(r *http.Request) ([]uuid.UUID, error) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			return nil, errNoProject
		}
		return []uuid.UUID{projectID}, nil
	}
}

// Workspace scopes reads to every project in the key's organization.
// ?project_id= narrows the set to one member project.
func Workspace(dir ProjectDirectory) ProjectSet {
	return func(r *http.Request) ([]uuid.UUID, error) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			return nil, errNoProject
		}
		project, err := dir.GetProject(r.Context(), projectID)
		if err != nil {
			return nil, err
		}
		ids, err := dir.ListProjectIDs(r.Context(), project.OrganizationID)
		if err != nil {
			return nil, err
		}

		raw := r.URL.Query().Get("project_id")
		if raw == "" {
			return ids, nil
		}
		want, err := uuid.Parse(raw)
		if err != nil {
			return nil, &events.ValidationError{Field: "project_id", Message: "must be a UUID"}
		}
		for _, id := range ids {
			if id == want {
				return []uuid.UUID{want}, nil
			}
		}
		return nil, store.ErrNotFound
	}
}

// writeError maps service errors onto the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *events.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error(w, http.StatusUnprocessableEntity, response.CodeValidation, ve.Error(),
			map[string]string{"field": ve.Field})
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Resource not found", nil)
	case errors.Is(err, models.ErrInvalidLevel),
		errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrUnknownCondition),
		errors.Is(err, models.ErrInvalidCondition),
		errors.Is(err, models.ErrInvalidRule):
		response.Error(w, http.StatusUnprocessableEntity, response.CodeValidation, err.Error(), nil)
	case errors.Is(err, errNoProject):
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidKey, "Missing project", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}

func badRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, response.CodeBadRequest, message, nil)
}

// parsePage reads ?limit= and ?offset=, clamping limit to [1, maxLimit].
func parsePage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, &events.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, &events.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
	}
	return min(limit, maxLimit), offset, nil
}

// parseSince reads a time parameter given either as RFC 3339 or as a
// duration before now ("24h", "7d").
func parseSince(r *http.Request, name string, now time.Time, fallback time.Duration) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		if fallback == 0 {
			return time.Time{}, nil
		}
		return now.Add(-fallback), nil
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	if d, ok := parseAge(v); ok {
		return now.Add(-d), nil
	}
	return time.Time{}, &events.ValidationError{Field: name, Message: "must be RFC 3339 or a duration such as 24h or 7d"}
}

func parseAge(v string) (time.Duration, bool) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * 24 * time.Hour, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// parseEventFilter builds an event filter from the shared query parameters.
func parseEventFilter(r *http.Request, projectIDs []uuid.UUID) (store.EventFilter, error) {
	q := r.URL.Query()
	f := store.EventFilter{
		ProjectIDs:  projectIDs,
		Type:        q.Get("type"),
		Search:      strings.TrimSpace(q.Get("search")),
		Environment: q.Get("environment"),
		Fingerprint: q.Get("fingerprint"),
	}

	if v := q.Get("level"); v != "" {
		level, err := models.ParseLevel(v)
		if err != nil {
			return f, &events.ValidationError{Field: "level", Message: err.Error()}
		}
		f.Level = level
	}

	var err error
	if f.Since, err = parseSince(r, "since", time.Now(), 0); err != nil {
		return f, err
	}
	if f.Limit, f.Offset, err = parsePage(r); err != nil {
		return f, err
	}
	return f, nil
}

func parseUUIDParam(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeBadRequest, name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
