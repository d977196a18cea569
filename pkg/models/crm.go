package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// SyncType distinguishes full pulls from incremental ones.
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// SyncStatus is the terminal state of one CRM sync run.
type SyncStatus string

const (
	SyncStatusRunning             SyncStatus = "running"
	SyncStatusCompleted           SyncStatus = "completed"
	SyncStatusCompletedWithErrors SyncStatus = "completed_with_errors"
	SyncStatusFailed              SyncStatus = "failed"
)

// CrmConnection holds the credentials and cursor for one CRM account.
type CrmConnection struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	Name           string     `json:"name"`
	BaseURL        string     `json:"base_url"`
	APIKey         string     `json:"-"` // Secret, never serialized
	IsActive       bool       `json:"is_active"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus `json:"last_sync_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CrmLead mirrors one person record in the external CRM.
// Unique on (crm_connection_id, external_id).
type CrmLead struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	CrmConnectionID uuid.UUID `json:"crm_connection_id"`
	ExternalID      string    `json:"external_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`

	EmailNormalized   string `json:"email_normalized"`
	PhoneNormalized   string `json:"phone_normalized"`
	AddressNormalized string `json:"address_normalized"`

	Stage  string   `json:"stage"`
	Source string   `json:"source"`
	Tags   []string `json:"tags,omitempty"`

	AssignedUserID    string `json:"assigned_user_id"`
	AssignedUserName  string `json:"assigned_user_name"`
	AssignedUserEmail string `json:"assigned_user_email"`

	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	SyncHash        string     `json:"sync_hash"`

	Embedding     *pgvector.Vector `json:"-"`
	EmbeddingText *string          `json:"embedding_text,omitempty"`
	EmbeddedAt    *time.Time       `json:"embedded_at,omitempty"`

	LastSyncedAt time.Time `json:"last_synced_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ComputeSyncHash returns a stable digest over the fields whose change is
// meaningful for downstream consumers. Cosmetic CRM churn that leaves these
// untouched does not trigger an update.
func (l *CrmLead) ComputeSyncHash() string {
	updated := ""
	if l.RemoteUpdatedAt != nil {
		updated = l.RemoteUpdatedAt.UTC().Format(time.RFC3339)
	}
	payload := strings.Join([]string{
		l.EmailNormalized,
		l.PhoneNormalized,
		l.FirstName,
		l.LastName,
		l.Stage,
		l.AssignedUserID,
		updated,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// EmbedText composes the deterministic text used for semantic search over
// CRM leads.
func (l *CrmLead) EmbedText() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{
		strings.TrimSpace(l.FirstName + " " + l.LastName),
		l.Email,
		l.Phone,
		l.Address,
		l.Stage,
		l.Source,
	} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}

// SyncLog records the outcome of one CRM sync run.
type SyncLog struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	CrmConnectionID uuid.UUID  `json:"crm_connection_id"`
	SyncType        SyncType   `json:"sync_type"`
	Status          SyncStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMs      int64      `json:"duration_ms"`
	Fetched         int        `json:"fetched"`
	Created         int        `json:"created"`
	Updated         int        `json:"updated"`
	Errors          []string   `json:"errors,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
