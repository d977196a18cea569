package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchType identifies the signal that produced a match.
type MatchType string

const (
	MatchTypeEmailExact   MatchType = "email_exact"
	MatchTypePhoneExact   MatchType = "phone_exact"
	MatchTypeAddressFuzzy MatchType = "address_fuzzy"
	MatchTypeManual       MatchType = "manual"
)

// MatchedBy identifies who committed a match.
type MatchedBy string

const (
	MatchedBySystem MatchedBy = "system"
	MatchedByAI     MatchedBy = "ai"
	MatchedByManual MatchedBy = "manual"
)

// MatchState is the lifecycle state of a committed match.
type MatchState string

const (
	MatchStateActive      MatchState = "active"
	MatchStateDisputed    MatchState = "disputed"
	MatchStateInvalidated MatchState = "invalidated"
)

// Match is a committed attribution between a canonical lead and a CRM lead.
// Unique on (canonical_lead_id, crm_lead_id); at most one active match per
// canonical lead.
type Match struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	CanonicalLeadID uuid.UUID `json:"canonical_lead_id"`
	CrmLeadID       uuid.UUID `json:"crm_lead_id"`

	MatchType    MatchType      `json:"match_type"`
	Confidence   float64        `json:"confidence"` // 0.0-1.0
	MatchDetails map[string]any `json:"match_details,omitempty"`

	MatchedBy       MatchedBy  `json:"matched_by"`
	MatchedByUserID *uuid.UUID `json:"matched_by_user_id,omitempty"`

	AttributedTeamID  *uuid.UUID `json:"attributed_team_id,omitempty"`
	AttributedAgentID *uuid.UUID `json:"attributed_agent_id,omitempty"`

	Status MatchState `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CandidateStatus is the review state of a match candidate.
type CandidateStatus string

const (
	CandidateStatusPending  CandidateStatus = "pending"
	CandidateStatusApproved CandidateStatus = "approved"
	CandidateStatusRejected CandidateStatus = "rejected"
	CandidateStatusExpired  CandidateStatus = "expired"
)

// ValidCandidateStatuses contains all valid candidate status values.
var ValidCandidateStatuses = []CandidateStatus{
	CandidateStatusPending,
	CandidateStatusApproved,
	CandidateStatusRejected,
	CandidateStatusExpired,
}

// IsValidCandidateStatus checks if the given status is valid.
func IsValidCandidateStatus(s CandidateStatus) bool {
	for _, v := range ValidCandidateStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// MatchReason records one scored signal behind a candidate, for review UI
// explainability.
type MatchReason struct {
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail,omitempty"`
}

// MatchCandidate is a mid-tier match awaiting a human decision.
// Unique on (canonical_lead_id, crm_lead_id).
type MatchCandidate struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	CanonicalLeadID uuid.UUID `json:"canonical_lead_id"`
	CrmLeadID       uuid.UUID `json:"crm_lead_id"`

	MatchType       MatchType     `json:"match_type"`
	ConfidenceScore float64       `json:"confidence_score"`
	MatchReasons    []MatchReason `json:"match_reasons,omitempty"`

	Status    CandidateStatus `json:"status"`
	ExpiresAt time.Time       `json:"expires_at"`

	ReviewedBy  *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes *string    `json:"review_notes,omitempty"`
	LeadMatchID *uuid.UUID `json:"lead_match_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
