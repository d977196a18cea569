package models

import (
	"time"

	"github.com/google/uuid"
)

// Team groups agents for attribution reporting.
type Team struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is a CRM user mapped into the tenant's org chart. FubUserID is the
// CRM-side user id used to resolve attribution from assigned_user_id.
type Agent struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	TeamID    *uuid.UUID `json:"team_id,omitempty"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	FubUserID string     `json:"fub_user_id"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}
