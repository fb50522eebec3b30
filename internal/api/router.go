package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/snowdamiz/pulsekit/internal/api/middleware"
	"github.com/snowdamiz/pulsekit/internal/api/response"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	// Ingestion
	CreateEvent http.HandlerFunc
	CreateBatch http.HandlerFunc

	// Events
	ListEvents        http.HandlerFunc
	CountEvents       http.HandlerFunc
	GetEvent          http.HandlerFunc
	EventStats        http.HandlerFunc
	EventTypes        http.HandlerFunc
	EventTimeline     http.HandlerFunc
	EventEnvironments http.HandlerFunc

	// Issues
	ListIssues        http.HandlerFunc
	CountIssues       http.HandlerFunc
	IssueStats        http.HandlerFunc
	GetIssue          http.HandlerFunc
	IssueEvents       http.HandlerFunc
	UpdateIssueStatus http.HandlerFunc

	// Organization-wide reads
	WorkspaceEvents     http.HandlerFunc
	WorkspaceIssues     http.HandlerFunc
	WorkspaceIssueStats http.HandlerFunc

	// Alert rules
	ListAlertRules  http.HandlerFunc
	GetAlertRule    http.HandlerFunc
	CreateAlertRule http.HandlerFunc
	UpdateAlertRule http.HandlerFunc
	DeleteAlertRule http.HandlerFunc
	TestAlertRule   http.HandlerFunc

	Realtime http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeIngest))
			r.Use(mw.Decompress)

			r.Post("/api/v1/events", orNotImplemented(deps.CreateEvent))
			r.Post("/api/v1/events/batch", orNotImplemented(deps.CreateBatch))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/events", orNotImplemented(deps.ListEvents))
			r.Get("/api/v1/events/count", orNotImplemented(deps.CountEvents))
			r.Get("/api/v1/events/stats", orNotImplemented(deps.EventStats))
			r.Get("/api/v1/events/types", orNotImplemented(deps.EventTypes))
			r.Get("/api/v1/events/timeline", orNotImplemented(deps.EventTimeline))
			r.Get("/api/v1/events/environments", orNotImplemented(deps.EventEnvironments))
			r.Get("/api/v1/events/{eventID}", orNotImplemented(deps.GetEvent))

			r.Get("/api/v1/issues", orNotImplemented(deps.ListIssues))
			r.Get("/api/v1/issues/count", orNotImplemented(deps.CountIssues))
			r.Get("/api/v1/issues/stats", orNotImplemented(deps.IssueStats))
			r.Get("/api/v1/issues/{fingerprint}", orNotImplemented(deps.GetIssue))
			r.Get("/api/v1/issues/{fingerprint}/events", orNotImplemented(deps.IssueEvents))

			r.Get("/api/v1/workspace/events", orNotImplemented(deps.WorkspaceEvents))
			r.Get("/api/v1/workspace/issues", orNotImplemented(deps.WorkspaceIssues))
			r.Get("/api/v1/workspace/issues/stats", orNotImplemented(deps.WorkspaceIssueStats))

			r.Get("/api/v1/alert-rules", orNotImplemented(deps.ListAlertRules))
			r.Get("/api/v1/alert-rules/{ruleID}", orNotImplemented(deps.GetAlertRule))

			r.Get("/api/v1/realtime", orNotImplemented(deps.Realtime))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeManage))

			r.Put("/api/v1/issues/{fingerprint}/status", orNotImplemented(deps.UpdateIssueStatus))

			r.Post("/api/v1/alert-rules", orNotImplemented(deps.CreateAlertRule))
			r.Put("/api/v1/alert-rules/{ruleID}", orNotImplemented(deps.UpdateAlertRule))
			r.Delete("/api/v1/alert-rules/{ruleID}", orNotImplemented(deps.DeleteAlertRule))
			r.Post("/api/v1/alert-rules/{ruleID}/test", orNotImplemented(deps.TestAlertRule))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "not_implemented", "Endpoint not yet implemented", nil)
	}
}
