package matching

import (
	"testing"

	"github.com/google/uuid"

	"github.com/attriq/lead-engine/pkg/models"
)

func TestScorerEmailExactWins(t *testing.T) {
	crmID := uuid.New()
	other := uuid.New()

	lead := LeadKeys{Email: "john.smith@example.com", Phone: "5551234567", Address: "123 main st"}
	corpus := []CorpusEntry{
		{CrmLeadID: crmID, Email: "john.smith@example.com", Phone: "5551234567", Address: "123 main st"},
		{CrmLeadID: other, Email: "someone@else.com"},
	}

	signals := NewScorer().Score(lead, corpus)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].CrmLeadID != crmID {
		t.Errorf("wrong crm lead: %s", signals[0].CrmLeadID)
	}
	if signals[0].MatchType != models.MatchTypeEmailExact {
		t.Errorf("expected email_exact, got %s", signals[0].MatchType)
	}
	if signals[0].Confidence != ConfidenceEmailExact {
		t.Errorf("expected confidence 1.00, got %v", signals[0].Confidence)
	}
}

func TestScorerPhoneExact(t *testing.T) {
	crmID := uuid.New()
	lead := LeadKeys{Phone: "5551234567"}
	corpus := []CorpusEntry{{CrmLeadID: crmID, Email: "a@b.co", Phone: "5551234567"}}

	signals := NewScorer().Score(lead, corpus)
	if len(signals) != 1 || signals[0].MatchType != models.MatchTypePhoneExact {
		t.Fatalf("expected one phone_exact signal, got %+v", signals)
	}
	if signals[0].Confidence != ConfidencePhoneExact {
		t.Errorf("expected confidence 0.95, got %v", signals[0].Confidence)
	}
}

func TestScorerAddressFuzzyReviewBand(t *testing.T) {
	crmID := uuid.New()
	lead := LeadKeys{Phone: "5550000000", Address: "456 oak ave"}
	corpus := []CorpusEntry{{CrmLeadID: crmID, Phone: "5559999999", Address: "456 oak avenue"}}

	signals := NewScorer().Score(lead, corpus)
	if len(signals) != 1 || signals[0].MatchType != models.MatchTypeAddressFuzzy {
		t.Fatalf("expected one address_fuzzy signal, got %+v", signals)
	}
	c := signals[0].Confidence
	if c < ReviewThreshold || c >= AutoThreshold {
		t.Errorf("expected confidence in review band [0.60, 0.90), got %v", c)
	}
}

func TestScorerDiscardsLowSimilarity(t *testing.T) {
	lead := LeadKeys{Address: "123 main st"}
	corpus := []CorpusEntry{{CrmLeadID: uuid.New(), Address: "900 elm blvd"}}

	if signals := NewScorer().Score(lead, corpus); len(signals) != 0 {
		t.Errorf("expected no signals below the similarity floor, got %+v", signals)
	}
}

func TestScorerEmptyKeysNeverMatch(t *testing.T) {
	lead := LeadKeys{}
	corpus := []CorpusEntry{{CrmLeadID: uuid.New()}, {CrmLeadID: uuid.New(), Email: ""}}

	if signals := NewScorer().Score(lead, corpus); len(signals) != 0 {
		t.Errorf("empty keys must not match empty keys, got %+v", signals)
	}
}

func TestScorerSortsAndLimits(t *testing.T) {
	lead := LeadKeys{Email: "a@b.co", Phone: "5551234567", Address: "123 main street"}

	// Mixed corpus: one email hit, two phone hits, one fuzzy address hit,
	// four more email hits to push past the candidate cap.
	corpus := []CorpusEntry{
		{CrmLeadID: uuid.New(), Email: "a@b.co"},
		{CrmLeadID: uuid.New(), Phone: "5551234567"},
		{CrmLeadID: uuid.New(), Phone: "5551234567"},
		{CrmLeadID: uuid.New(), Address: "123 main st"},
		{CrmLeadID: uuid.New(), Email: "a@b.co"},
		{CrmLeadID: uuid.New(), Email: "a@b.co"},
		{CrmLeadID: uuid.New(), Email: "a@b.co"},
		{CrmLeadID: uuid.New(), Email: "a@b.co"},
	}

	signals := NewScorer().Score(lead, corpus)
	if len(signals) != DefaultMaxCandidates {
		t.Fatalf("expected %d signals, got %d", DefaultMaxCandidates, len(signals))
	}
	if signals[0].MatchType != models.MatchTypeEmailExact {
		t.Errorf("highest signal should be email_exact, got %s", signals[0].MatchType)
	}
	for i := 1; i < len(signals); i++ {
		if signals[i].Confidence > signals[i-1].Confidence {
			t.Errorf("signals not sorted descending at %d: %v > %v", i, signals[i].Confidence, signals[i-1].Confidence)
		}
	}
}
