package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/snowdamiz/pulsekit/internal/api/middleware"
	"github.com/snowdamiz/pulsekit/internal/api/response"
	"github.com/snowdamiz/pulsekit/internal/fingerprint"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// WebhookFirer delivers a rule's webhook synchronously.
type WebhookFirer interface {
	Fire(ctx context.Context, rule *models.AlertRule, e *models.Event) error
}

// AlertRules serves the alert rule CRUD endpoints.
type AlertRules struct {
	store  store.AlertRuleStore
	events EventService
	firer  WebhookFirer
	now    func() time.Time
}

func NewAlertRules(s store.AlertRuleStore, events EventService, firer WebhookFirer) *AlertRules {
	return &AlertRules{store: s, events: events, firer: firer, now: time.Now}
}

type ruleRequest struct {
	Name            *string         `json:"name"`
	ConditionType   *string         `json:"condition_type"`
	ConditionConfig json.RawMessage `json:"condition_config"`
	WebhookURL      *string         `json:"webhook_url"`
	Enabled         *bool           `json:"enabled"`
}

// apply copies the fields present in req onto rule.
func (req ruleRequest) apply(rule *models.AlertRule) error {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.WebhookURL != nil {
		rule.WebhookURL = *req.WebhookURL
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	switch {
	case req.ConditionType != nil:
		cond, err := models.DecodeCondition(models.ConditionType(*req.ConditionType), req.ConditionConfig)
		if err != nil {
			return err
		}
		rule.Condition = cond
	case len(req.ConditionConfig) > 0 && rule.Condition != nil:
		cond, err := models.DecodeCondition(rule.Condition.Type(), req.ConditionConfig)
		if err != nil {
			return err
		}
		rule.Condition = cond
	}
	return rule.Validate()
}

// List handles GET /api/v1/alert-rules.
func (h *AlertRules) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.GetProjectID(r)
	if !ok {
		writeError(w, r, errNoProject)
		return
	}
	rules, err := h.store.ListAlertRules(r.Context(), projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, rules)
}

// Get handles GET /api/v1/alert-rules/{ruleID}.
func (h *AlertRules) Get(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}
	response.JSON(w, rule)
}

// Create handles POST /api/v1/alert-rules. Rules are enabled unless the
// request says otherwise.
func (h *AlertRules) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.GetProjectID(r)
	if !ok {
		writeError(w, r, errNoProject)
		return
	}

	var req ruleRequest
	if err := decodeBody(w, r, maxEventBody, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.ConditionType == nil {
		response.Error(w, http.StatusUnprocessableEntity, response.CodeValidation,
			"condition_type is required", map[string]string{"field": "condition_type"})
		return
	}

	now := h.now().UTC()
	rule := &models.AlertRule{
		ID:        uuid.New(),
		ProjectID: projectID,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := req.apply(rule); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.CreateAlertRule(r.Context(), rule); err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, rule)
}

// Update handles PUT /api/v1/alert-rules/{ruleID}. Omitted fields keep their
// current values.
func (h *AlertRules) Update(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := decodeBody(w, r, maxEventBody, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := req.apply(rule); err != nil {
		writeError(w, r, err)
		return
	}
	rule.UpdatedAt = h.now().UTC()
	if err := h.store.UpdateAlertRule(r.Context(), rule); err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, rule)
}

// Delete handles DELETE /api/v1/alert-rules/{ruleID}.
func (h *AlertRules) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := mw.GetProjectID(r)
	if !ok {
		writeError(w, r, errNoProject)
		return
	}
	id, ok := parseUUIDParam(w, chi.URLParam(r, "ruleID"), "ruleID")
	if !ok {
		return
	}
	if err := h.store.DeleteAlertRule(r.Context(), id, projectID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// Test handles POST /api/v1/alert-rules/{ruleID}/test. It delivers the
// webhook for the project's most recent event, or a synthetic one, without
// evaluating the rule's condition.
func (h *AlertRules) Test(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}

	e, err := h.sampleEvent(r.Context(), rule.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.firer.Fire(r.Context(), rule, e); err != nil {
		response.Error(w, http.StatusBadGateway, response.CodeDeliveryFailed, err.Error(), nil)
		return
	}
	response.JSON(w, map[string]any{"delivered": true, "event_id": e.ID})
}

func (h *AlertRules) sampleEvent(ctx context.Context, projectID uuid.UUID) (*models.Event, error) {
	latest, err := h.events.List(ctx, store.EventFilter{ProjectIDs: []uuid.UUID{projectID}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		return latest[0], nil
	}

	const typ, msg = "pulsekit.test", "Test alert from PulseKit"
	return &models.Event{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Type:        typ,
		Level:       models.LevelError,
		Message:     msg,
		Fingerprint: fingerprint.Compute(typ, msg),
		Timestamp:   h.now().UTC(),
	}, nil
}

func (h *AlertRules) load(w http.ResponseWriter, r *http.Request) (*models.AlertRule, bool) {
	projectID, ok := mw.GetProjectID(r)
	if !ok {
		writeError(w, r, errNoProject)
		return nil, false
	}
	id, ok := parseUUIDParam(w, chi.URLParam(r, "ruleID"), "ruleID")
	if !ok {
		return nil, false
	}
	rule, err := h.store.GetAlertRule(r.Context(), id, projectID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return rule, true
}
