package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// LeadMatchStatus is the matching state of a canonical lead.
type LeadMatchStatus string

const (
	LeadMatchPending   LeadMatchStatus = "pending"
	LeadMatchMatched   LeadMatchStatus = "matched"
	LeadMatchUnmatched LeadMatchStatus = "unmatched"
	LeadMatchMultiple  LeadMatchStatus = "multiple"
	LeadMatchReview    LeadMatchStatus = "review"
)

// ValidLeadMatchStatuses contains all valid lead match status values.
var ValidLeadMatchStatuses = []LeadMatchStatus{
	LeadMatchPending,
	LeadMatchMatched,
	LeadMatchUnmatched,
	LeadMatchMultiple,
	LeadMatchReview,
}

// IsValidLeadMatchStatus checks if the given status is valid.
func IsValidLeadMatchStatus(s LeadMatchStatus) bool {
	for _, v := range ValidLeadMatchStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanonicalLead is a normalized external lead. Created by the transformer,
// updated by the matcher and review resolver, never deleted.
type CanonicalLead struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	LeadSourceID uuid.UUID `json:"lead_source_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	LeadType  string `json:"lead_type"`

	EmailNormalized   string `json:"email_normalized"`
	PhoneNormalized   string `json:"phone_normalized"`
	AddressNormalized string `json:"address_normalized"`

	SourceRecordID  string     `json:"source_record_id"`
	SourceCreatedAt *time.Time `json:"source_created_at,omitempty"`

	MatchStatus     LeadMatchStatus `json:"match_status"`
	MatchConfidence *float64        `json:"match_confidence,omitempty"`

	Embedding     *pgvector.Vector `json:"-"`
	EmbeddingText *string          `json:"embedding_text,omitempty"`
	EmbeddedAt    *time.Time       `json:"embedded_at,omitempty"`

	RawData map[string]string `json:"raw_data"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbedText composes the text submitted to the embedding provider. The
// attribute order is fixed so the composed text is deterministic for a
// given lead.
func (l *CanonicalLead) EmbedText() string {
	parts := make([]string, 0, 8)
	for _, p := range []string{
		strings.TrimSpace(l.FirstName + " " + l.LastName),
		l.Email,
		l.Phone,
		l.Address,
		l.City,
		l.State,
		l.Zip,
		l.LeadType,
	} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}
