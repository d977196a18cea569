package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/matching"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/repositories"
)

// passthroughTx satisfies txRunner without a database; both levels just run
// the function on the same context.
type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (passthroughTx) WithNested(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeLeadRepo struct {
	repositories.CanonicalLeadRepository
	pending  []*models.CanonicalLead
	outcomes map[uuid.UUID]models.LeadMatchStatus
	scores   map[uuid.UUID]*float64
	failFor  uuid.UUID
}

func (f *fakeLeadRepo) ClaimPendingMatch(ctx context.Context, limit int) ([]*models.CanonicalLead, error) {
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeLeadRepo) SetMatchOutcome(ctx context.Context, leadID uuid.UUID, status models.LeadMatchStatus, confidence *float64) error {
	if leadID == f.failFor {
		return errors.New("deadlock detected")
	}
	if f.outcomes == nil {
		f.outcomes = make(map[uuid.UUID]models.LeadMatchStatus)
		f.scores = make(map[uuid.UUID]*float64)
	}
	f.outcomes[leadID] = status
	f.scores[leadID] = confidence
	return nil
}

type fakeCrmLeadRepo struct {
	repositories.CrmLeadRepository
	corpus []*models.CrmLead
	err    error
}

func (f *fakeCrmLeadRepo) FindMatchCandidates(ctx context.Context, tenantID uuid.UUID, emailNorm, phoneNorm, addressNorm string, simThreshold float64) ([]*models.CrmLead, error) {
	return f.corpus, f.err
}

type fakeMatchRepo struct {
	repositories.MatchRepository
	created []*models.Match
}

func (f *fakeMatchRepo) Create(ctx context.Context, match *models.Match) error {
	match.ID = uuid.New()
	f.created = append(f.created, match)
	return nil
}

type fakeCandidateRepo struct {
	repositories.MatchCandidateRepository
	upserted []*models.MatchCandidate
	kept     [][]uuid.UUID
}

func (f *fakeCandidateRepo) Upsert(ctx context.Context, cand *models.MatchCandidate) error {
	cand.ID = uuid.New()
	f.upserted = append(f.upserted, cand)
	return nil
}

func (f *fakeCandidateRepo) RejectStale(ctx context.Context, canonicalLeadID uuid.UUID, keep []uuid.UUID) (int, error) {
	f.kept = append(f.kept, keep)
	return 0, nil
}

type fakeLineageRepo struct {
	repositories.LineageRepository
	entries []*models.LineageEntry
}

func (f *fakeLineageRepo) Create(ctx context.Context, entry *models.LineageEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type matcherFixture struct {
	svc        *matcherService
	leads      *fakeLeadRepo
	crmLeads   *fakeCrmLeadRepo
	matches    *fakeMatchRepo
	candidates *fakeCandidateRepo
	lineage    *fakeLineageRepo
}

func newMatcherFixture() *matcherFixture {
	f := &matcherFixture{
		leads:      &fakeLeadRepo{},
		crmLeads:   &fakeCrmLeadRepo{},
		matches:    &fakeMatchRepo{},
		candidates: &fakeCandidateRepo{},
		lineage:    &fakeLineageRepo{},
	}
	f.svc = &matcherService{
		db:           passthroughTx{},
		leads:        f.leads,
		crmLeads:     f.crmLeads,
		matches:      f.matches,
		candidates:   f.candidates,
		lineage:      f.lineage,
		scorer:       matching.NewScorer(),
		candidateTTL: time.Hour,
		logger:       zap.NewNop(),
	}
	return f
}

func pendingLead(email, phone, address string) *models.CanonicalLead {
	return &models.CanonicalLead{
		ID:                uuid.New(),
		TenantID:          uuid.New(),
		EmailNormalized:   email,
		PhoneNormalized:   phone,
		AddressNormalized: address,
		MatchStatus:       models.LeadMatchPending,
	}
}

func corpusLead(email, phone, address string) *models.CrmLead {
	return &models.CrmLead{
		ID:                uuid.New(),
		EmailNormalized:   email,
		PhoneNormalized:   phone,
		AddressNormalized: address,
	}
}

func TestMatchLeadReviewBandSingleCandidate(t *testing.T) {
	f := newMatcherFixture()
	lead := pendingLead("", "", "123 main st")
	f.crmLeads.corpus = []*models.CrmLead{
		corpusLead("other@example.com", "", "123 main st apt 4"),
	}

	require.NoError(t, f.svc.MatchLead(context.Background(), lead))

	assert.Equal(t, models.LeadMatchReview, f.leads.outcomes[lead.ID])
	assert.Empty(t, f.matches.created)
	require.Len(t, f.candidates.upserted, 1)
	assert.Equal(t, models.MatchTypeAddressFuzzy, f.candidates.upserted[0].MatchType)
}

func TestMatchLeadReviewBandTwoCandidatesIsMultiple(t *testing.T) {
	f := newMatcherFixture()
	lead := pendingLead("", "", "123 main st")
	f.crmLeads.corpus = []*models.CrmLead{
		corpusLead("", "", "123 main st apt 4"),
		corpusLead("", "", "123 main street"),
	}

	require.NoError(t, f.svc.MatchLead(context.Background(), lead))

	assert.Equal(t, models.LeadMatchMultiple, f.leads.outcomes[lead.ID])
	assert.Empty(t, f.matches.created)
	assert.Len(t, f.candidates.upserted, 2)
	// Confidence reflects the best candidate.
	require.NotNil(t, f.leads.scores[lead.ID])
	assert.InDelta(t, 12.0/18.0, *f.leads.scores[lead.ID], 1e-9)
}

func TestMatchLeadTiedAutoSignalsCommitTop(t *testing.T) {
	f := newMatcherFixture()
	lead := pendingLead("shared@example.com", "", "")
	first := corpusLead("shared@example.com", "", "")
	second := corpusLead("shared@example.com", "", "")
	f.crmLeads.corpus = []*models.CrmLead{first, second}

	require.NoError(t, f.svc.MatchLead(context.Background(), lead))

	// A tie above the auto threshold commits to the top corpus entry
	// instead of deferring to review.
	require.Len(t, f.matches.created, 1)
	assert.Equal(t, first.ID, f.matches.created[0].CrmLeadID)
	assert.Equal(t, models.MatchTypeEmailExact, f.matches.created[0].MatchType)
	assert.Equal(t, models.LeadMatchMatched, f.leads.outcomes[lead.ID])
	assert.Empty(t, f.candidates.upserted)
	assert.Len(t, f.lineage.entries, 1)
}

func TestMatchLeadBelowReviewBandIsDropped(t *testing.T) {
	f := newMatcherFixture()
	lead := pendingLead("", "", "ab")
	f.crmLeads.corpus = []*models.CrmLead{
		corpusLead("", "", "abc"),
	}

	require.NoError(t, f.svc.MatchLead(context.Background(), lead))

	assert.Equal(t, models.LeadMatchUnmatched, f.leads.outcomes[lead.ID])
	assert.Empty(t, f.candidates.upserted)
	assert.Empty(t, f.matches.created)
}

func TestRunContinuesPastLeadFailure(t *testing.T) {
	f := newMatcherFixture()
	broken := pendingLead("", "", "")
	healthy := pendingLead("", "", "")
	f.leads.pending = []*models.CanonicalLead{broken, healthy}
	f.leads.failFor = broken.ID

	settled, err := f.svc.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, models.LeadMatchUnmatched, f.leads.outcomes[healthy.ID])
	_, ok := f.leads.outcomes[broken.ID]
	assert.False(t, ok, "failed lead must keep its pending status")
}

func TestRunAbortsWhenCorpusUnreadable(t *testing.T) {
	f := newMatcherFixture()
	f.leads.pending = []*models.CanonicalLead{
		pendingLead("someone@example.com", "", ""),
		pendingLead("other@example.com", "", ""),
	}
	f.crmLeads.err = errors.New("relation crm_leads does not exist")

	settled, err := f.svc.Run(context.Background(), 10)

	require.Error(t, err)
	assert.Equal(t, 0, settled)
	assert.Empty(t, f.leads.outcomes)
}

func TestMatchLeadRescoreKeepsRefreshedPairs(t *testing.T) {
	f := newMatcherFixture()
	lead := pendingLead("", "", "123 main st")
	kept := corpusLead("", "", "123 main st apt 4")
	f.crmLeads.corpus = []*models.CrmLead{kept}

	require.NoError(t, f.svc.MatchLead(context.Background(), lead))

	// Candidates the scoring still produces stay pending; everything else
	// for the lead is superseded.
	require.Len(t, f.candidates.kept, 1)
	assert.Equal(t, []uuid.UUID{kept.ID}, f.candidates.kept[0])
}
