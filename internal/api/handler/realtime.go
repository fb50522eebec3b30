package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	mw "github.com/snowdamiz/pulsekit/internal/api/middleware"
	"github.com/snowdamiz/pulsekit/internal/realtime"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API key authenticates the upgrade; origin is not checked.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ProjectGetter resolves a project to its organization.
type ProjectGetter interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// NewRealtimeHandler returns an http.HandlerFunc for GET /api/v1/realtime.
// Sessions end when ctx is cancelled.
func NewRealtimeHandler(ctx context.Context, hub *realtime.Hub, projects ProjectGetter, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			writeError(w, r, errNoProject)
			return
		}
		project, err := projects.GetProject(r.Context(), projectID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "error", err)
			return
		}

		session := realtime.NewSession(conn, hub,
			realtime.ProjectTopic(project.ID),
			realtime.OrgTopic(project.OrganizationID),
			logger,
		)
		session.Run(ctx)
	}
}
