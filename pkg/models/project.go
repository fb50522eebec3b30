package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization groups projects into a workspace.
type Organization struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Project owns events, issue statuses, alert rules and API keys.
type Project struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	Name           string    `db:"name"            json:"name"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}
