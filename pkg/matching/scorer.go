// Package matching scores canonical leads against a tenant's CRM corpus.
// The scorer is pure: it sees only normalized match keys and emits scored
// signals; tiering and persistence happen in the matcher service.
package matching

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/attriq/lead-engine/pkg/models"
)

// Signal confidences and tier thresholds. These are module-level constants,
// not per-tenant configuration.
const (
	ConfidenceEmailExact = 1.00
	ConfidencePhoneExact = 0.95

	// AddressSimilarityFloor discards fuzzy address signals at or below
	// this similarity. Because fuzzy confidence equals raw similarity, an
	// address signal crosses AutoThreshold only when the addresses are
	// near-identical; in practice only exact signals auto-match.
	AddressSimilarityFloor = 0.60

	AutoThreshold   = 0.90
	ReviewThreshold = 0.60
	RejectThreshold = 0.40

	DefaultMaxCandidates = 5
)

// LeadKeys holds a canonical lead's normalized match keys.
type LeadKeys struct {
	Email   string // normalized, "" when absent
	Phone   string // exact-match key, "" when absent or under 10 digits
	Address string // normalized, "" when absent
}

// CorpusEntry is one CRM lead's normalized match keys.
type CorpusEntry struct {
	CrmLeadID uuid.UUID
	Email     string
	Phone     string
	Address   string
}

// Signal is one scored (canonical, crm_lead) pair. Confidence is the
// maximum-confidence signal for the pair, ties broken by priority order
// (email > phone > address).
type Signal struct {
	CrmLeadID  uuid.UUID
	MatchType  models.MatchType
	Confidence float64
	Details    map[string]any
}

// Scorer scores one canonical lead against a CRM corpus.
type Scorer struct {
	maxCandidates int
}

// NewScorer creates a scorer returning at most DefaultMaxCandidates results.
func NewScorer() *Scorer {
	return &Scorer{maxCandidates: DefaultMaxCandidates}
}

// NewScorerWithLimit creates a scorer returning at most n results.
func NewScorerWithLimit(n int) *Scorer {
	if n <= 0 {
		n = DefaultMaxCandidates
	}
	return &Scorer{maxCandidates: n}
}

// Score evaluates lead against every corpus entry and returns the top
// candidates sorted by confidence descending. Entries with no signal above
// the address floor are omitted.
func (s *Scorer) Score(lead LeadKeys, corpus []CorpusEntry) []Signal {
	signals := make([]Signal, 0, len(corpus))

	for _, entry := range corpus {
		if sig, ok := s.scorePair(lead, entry); ok {
			signals = append(signals, sig)
		}
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Confidence != signals[j].Confidence {
			return signals[i].Confidence > signals[j].Confidence
		}
		return signalPriority(signals[i].MatchType) < signalPriority(signals[j].MatchType)
	})

	if len(signals) > s.maxCandidates {
		signals = signals[:s.maxCandidates]
	}
	return signals
}

// scorePair returns the best signal for one (lead, crm) pair, evaluated in
// priority order so the first hit at a given confidence wins.
func (s *Scorer) scorePair(lead LeadKeys, entry CorpusEntry) (Signal, bool) {
	if lead.Email != "" && entry.Email != "" && lead.Email == entry.Email {
		return Signal{
			CrmLeadID:  entry.CrmLeadID,
			MatchType:  models.MatchTypeEmailExact,
			Confidence: ConfidenceEmailExact,
			Details:    map[string]any{"email": lead.Email},
		}, true
	}

	if lead.Phone != "" && entry.Phone != "" && lead.Phone == entry.Phone {
		return Signal{
			CrmLeadID:  entry.CrmLeadID,
			MatchType:  models.MatchTypePhoneExact,
			Confidence: ConfidencePhoneExact,
			Details:    map[string]any{"phone": lead.Phone},
		}, true
	}

	if lead.Address != "" && entry.Address != "" {
		sim := TrigramSimilarity(lead.Address, entry.Address)
		if sim > AddressSimilarityFloor {
			return Signal{
				CrmLeadID:  entry.CrmLeadID,
				MatchType:  models.MatchTypeAddressFuzzy,
				Confidence: sim,
				Details: map[string]any{
					"lead_address": lead.Address,
					"crm_address":  entry.Address,
					"similarity":   sim,
				},
			}, true
		}
	}

	return Signal{}, false
}

// Reason converts a signal into a persisted match reason.
func (sig Signal) Reason() models.MatchReason {
	detail := ""
	switch sig.MatchType {
	case models.MatchTypeEmailExact:
		detail = fmt.Sprintf("email %v", sig.Details["email"])
	case models.MatchTypePhoneExact:
		detail = fmt.Sprintf("phone %v", sig.Details["phone"])
	case models.MatchTypeAddressFuzzy:
		detail = fmt.Sprintf("address similarity %.2f", sig.Details["similarity"])
	}
	return models.MatchReason{
		Signal:     string(sig.MatchType),
		Confidence: sig.Confidence,
		Detail:     detail,
	}
}

func signalPriority(t models.MatchType) int {
	switch t {
	case models.MatchTypeEmailExact:
		return 0
	case models.MatchTypePhoneExact:
		return 1
	case models.MatchTypeAddressFuzzy:
		return 2
	default:
		return 3
	}
}
