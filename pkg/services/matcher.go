package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/matching"
	"github.com/attriq/lead-engine/pkg/metrics"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/repositories"
)

// MatcherService scores pending canonical leads against the CRM mirror and
// either commits a match, queues candidates for review, or settles the lead
// as unmatched.
type MatcherService interface {
	// Run matches up to limit pending leads in one transaction. Returns
	// the number of leads settled.
	Run(ctx context.Context, limit int) (int, error)

	// MatchLead scores and settles a single lead. Must run inside a
	// transaction holding the lead's claim.
	MatchLead(ctx context.Context, lead *models.CanonicalLead) error

	// Rescore re-runs matching for one lead. A lead holding an active
	// match is left untouched; one awaiting review has its candidates
	// refreshed in place and any candidate the new scoring no longer
	// produces is rejected as superseded.
	Rescore(ctx context.Context, tenantID, leadID uuid.UUID) error
}

// txRunner is the transactional surface services need from database.DB;
// tests substitute a pass-through.
type txRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithNested(ctx context.Context, fn func(ctx context.Context) error) error
}

// corpusError marks a failure of the corpus pre-filter query. Nothing else
// in the pass can succeed once the corpus is unreadable, so the run aborts
// instead of charging the error to individual leads.
type corpusError struct{ err error }

func (e corpusError) Error() string { return "corpus query: " + e.err.Error() }
func (e corpusError) Unwrap() error { return e.err }

type matcherService struct {
	db           txRunner
	leads        repositories.CanonicalLeadRepository
	crmLeads     repositories.CrmLeadRepository
	matches      repositories.MatchRepository
	candidates   repositories.MatchCandidateRepository
	agents       repositories.AgentRepository
	lineage      repositories.LineageRepository
	scorer       *matching.Scorer
	candidateTTL time.Duration
	logger       *zap.Logger
}

// NewMatcherService creates a new MatcherService.
func NewMatcherService(
	db *database.DB,
	leads repositories.CanonicalLeadRepository,
	crmLeads repositories.CrmLeadRepository,
	matches repositories.MatchRepository,
	candidates repositories.MatchCandidateRepository,
	agents repositories.AgentRepository,
	lineage repositories.LineageRepository,
	candidateTTL time.Duration,
	logger *zap.Logger,
) MatcherService {
	if candidateTTL <= 0 {
		candidateTTL = 7 * 24 * time.Hour
	}
	return &matcherService{
		db:           db,
		leads:        leads,
		crmLeads:     crmLeads,
		matches:      matches,
		candidates:   candidates,
		agents:       agents,
		lineage:      lineage,
		scorer:       matching.NewScorer(),
		candidateTTL: candidateTTL,
		logger:       logger.Named("matcher"),
	}
}

var _ MatcherService = (*matcherService)(nil)

func (s *matcherService) Run(ctx context.Context, limit int) (int, error) {
	settled, failed := 0, 0
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		leads, err := s.leads.ClaimPendingMatch(ctx, limit)
		if err != nil {
			return err
		}
		for _, lead := range leads {
			// Each lead settles in a nested transaction so one failure
			// rolls back that lead alone and the pass carries on. The
			// failed lead stays pending for the next pass.
			err := s.db.WithNested(ctx, func(ctx context.Context) error {
				return s.MatchLead(ctx, lead)
			})
			var fatal corpusError
			switch {
			case err == nil:
				settled++
			case errors.As(err, &fatal):
				return fmt.Errorf("match lead %s: %w", lead.ID, err)
			default:
				failed++
				s.logger.Error("lead match failed",
					zap.String("canonical_lead_id", lead.ID.String()),
					zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return settled, err
	}
	if settled > 0 || failed > 0 {
		s.logger.Info("matcher pass complete",
			zap.Int("settled", settled),
			zap.Int("failed", failed))
	}
	return settled, nil
}

func (s *matcherService) Rescore(ctx context.Context, tenantID, leadID uuid.UUID) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		lead, err := s.leads.GetByID(ctx, tenantID, leadID)
		if err != nil {
			return err
		}
		if lead.MatchStatus == models.LeadMatchMatched {
			return nil
		}
		// The committed match always wins over a re-score.
		if _, err := s.matches.GetActiveByCanonicalLead(ctx, lead.ID); err == nil {
			return nil
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return s.MatchLead(ctx, lead)
	})
}

// settle records a lead's terminal match status and counts the outcome.
func (s *matcherService) settle(ctx context.Context, leadID uuid.UUID, status models.LeadMatchStatus, confidence *float64) error {
	if err := s.leads.SetMatchOutcome(ctx, leadID, status, confidence); err != nil {
		return err
	}
	metrics.LeadsSettled.WithLabelValues(string(status)).Inc()
	return nil
}

func (s *matcherService) MatchLead(ctx context.Context, lead *models.CanonicalLead) error {
	keys := matching.LeadKeys{
		Email:   lead.EmailNormalized,
		Phone:   lead.PhoneNormalized,
		Address: lead.AddressNormalized,
	}

	// Leads with no usable key can never match.
	if keys.Email == "" && keys.Phone == "" && keys.Address == "" {
		return s.settle(ctx, lead.ID, models.LeadMatchUnmatched, nil)
	}

	// The SQL pre-filter over-fetches (threshold below the floor) and the
	// scorer applies the precise cutoffs.
	crmLeads, err := s.crmLeads.FindMatchCandidates(ctx, lead.TenantID,
		keys.Email, keys.Phone, keys.Address, matching.RejectThreshold)
	if err != nil {
		return corpusError{err}
	}

	corpus := make([]matching.CorpusEntry, len(crmLeads))
	byID := make(map[uuid.UUID]*models.CrmLead, len(crmLeads))
	for i, cl := range crmLeads {
		corpus[i] = matching.CorpusEntry{
			CrmLeadID: cl.ID,
			Email:     cl.EmailNormalized,
			Phone:     cl.PhoneNormalized,
			Address:   cl.AddressNormalized,
		}
		byID[cl.ID] = cl
	}

	signals := s.scorer.Score(keys, corpus)
	if len(signals) == 0 {
		return s.settle(ctx, lead.ID, models.LeadMatchUnmatched, nil)
	}

	// Signals arrive sorted best-first, so a tie at the auto band still
	// commits deterministically to the top result.
	if signals[0].Confidence >= matching.AutoThreshold {
		return s.commitMatch(ctx, lead, signals[0], byID[signals[0].CrmLeadID])
	}

	review := signals[:0:0]
	for _, sig := range signals {
		if sig.Confidence >= matching.ReviewThreshold {
			review = append(review, sig)
		}
	}
	if len(review) == 0 {
		// Everything scored below the review band; weak signals are
		// dropped rather than surfaced.
		return s.settle(ctx, lead.ID, models.LeadMatchUnmatched, nil)
	}

	if err := s.queueCandidates(ctx, lead, review); err != nil {
		return err
	}
	status := models.LeadMatchReview
	if len(review) > 1 {
		status = models.LeadMatchMultiple
	}
	conf := review[0].Confidence
	return s.settle(ctx, lead.ID, status, &conf)
}

func (s *matcherService) commitMatch(ctx context.Context, lead *models.CanonicalLead, sig matching.Signal, crmLead *models.CrmLead) error {
	match := &models.Match{
		TenantID:        lead.TenantID,
		CanonicalLeadID: lead.ID,
		CrmLeadID:       sig.CrmLeadID,
		MatchType:       sig.MatchType,
		Confidence:      sig.Confidence,
		MatchDetails:    sig.Details,
		MatchedBy:       models.MatchedBySystem,
		Status:          models.MatchStateActive,
	}
	s.attribute(ctx, match, crmLead)

	if err := s.matches.Create(ctx, match); err != nil {
		// A concurrent or earlier pass already matched this lead; the
		// existing match stands.
		if errors.Is(err, apperrors.ErrConflict) {
			s.logger.Warn("lead already matched",
				zap.String("canonical_lead_id", lead.ID.String()))
			return s.settle(ctx, lead.ID, models.LeadMatchMatched, &sig.Confidence)
		}
		return err
	}

	if err := s.lineage.Create(ctx, &models.LineageEntry{
		TenantID:           lead.TenantID,
		SourceTable:        models.EmbedTargetCanonicalLeads,
		SourceID:           lead.ID,
		TargetTable:        "lead_matches",
		TargetID:           match.ID,
		Operation:          models.LineageOpDerive,
		TransformationType: models.TransformationMatch,
		PerformedBy:        "matcher",
		Details: map[string]any{
			"match_type": string(sig.MatchType),
			"confidence": sig.Confidence,
		},
	}); err != nil {
		return err
	}

	// Candidates queued by an earlier pass are moot once a match commits.
	if _, err := s.candidates.RejectStale(ctx, lead.ID, nil); err != nil {
		return err
	}

	return s.settle(ctx, lead.ID, models.LeadMatchMatched, &sig.Confidence)
}

// attribute resolves the CRM-assigned user to an agent and team. A missing
// roster entry leaves the match unattributed rather than failing it.
func (s *matcherService) attribute(ctx context.Context, match *models.Match, crmLead *models.CrmLead) {
	if crmLead == nil || crmLead.AssignedUserID == "" {
		return
	}
	agent, err := s.agents.GetByFubUserID(ctx, match.TenantID, crmLead.AssignedUserID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("agent lookup failed", zap.Error(err))
		}
		return
	}
	match.AttributedAgentID = &agent.ID
	match.AttributedTeamID = agent.TeamID
}

func (s *matcherService) queueCandidates(ctx context.Context, lead *models.CanonicalLead, signals []matching.Signal) error {
	expires := time.Now().Add(s.candidateTTL)
	keep := make([]uuid.UUID, 0, len(signals))
	for _, sig := range signals {
		keep = append(keep, sig.CrmLeadID)
		cand := &models.MatchCandidate{
			TenantID:        lead.TenantID,
			CanonicalLeadID: lead.ID,
			CrmLeadID:       sig.CrmLeadID,
			MatchType:       sig.MatchType,
			ConfidenceScore: sig.Confidence,
			MatchReasons:    []models.MatchReason{sig.Reason()},
			Status:          models.CandidateStatusPending,
			ExpiresAt:       expires,
		}
		if err := s.candidates.Upsert(ctx, cand); err != nil {
			return err
		}
	}
	// A re-score may stop producing a pair queued last pass; those
	// candidates are settled rather than left dangling in review.
	if _, err := s.candidates.RejectStale(ctx, lead.ID, keep); err != nil {
		return err
	}
	return nil
}
