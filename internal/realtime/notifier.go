package realtime

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/pkg/models"
)

// ProjectLookup resolves a project to its owning organization.
type ProjectLookup interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

// Notifier publishes ingestion notifications to the project topic and the
// owning organization's topic.
type Notifier struct {
	broker   Broker
	projects ProjectLookup
	logger   *slog.Logger
}

func NewNotifier(broker Broker, projects ProjectLookup, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{broker: broker, projects: projects, logger: logger}
}

// PublishEvent announces a single new event.
func (n *Notifier) PublishEvent(ctx context.Context, e *models.Event) {
	n.publish(ctx, e.ProjectID, Message{Type: TypeNewEvent, Event: e})
}

// PublishBatch announces that count events were inserted for projectID.
func (n *Notifier) PublishBatch(ctx context.Context, projectID uuid.UUID, count int) {
	n.publish(ctx, projectID, Message{Type: TypeEventsBatch, Count: count})
}

func (n *Notifier) publish(ctx context.Context, projectID uuid.UUID, msg Message) {
	msg.Topic = ProjectTopic(projectID)
	if err := n.broker.Publish(ctx, msg); err != nil {
		n.logger.Warn("realtime publish failed", "topic", msg.Topic, "error", err)
	}

	// Looked up on every publish so a project moved between organizations
	// is announced to its current one.
	project, err := n.projects.GetProject(ctx, projectID)
	if err != nil {
		n.logger.Warn("resolve project organization", "project_id", projectID, "error", err)
		return
	}
	msg.Topic = OrgTopic(project.OrganizationID)
	if err := n.broker.Publish(ctx, msg); err != nil {
		n.logger.Warn("realtime publish failed", "topic", msg.Topic, "error", err)
	}
}
