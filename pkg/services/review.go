package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/repositories"
)

// ReviewService resolves mid-confidence match candidates.
type ReviewService interface {
	// Approve commits a pending candidate as a manual match. Remaining
	// pending candidates for the same lead are rejected as superseded.
	// Returns apperrors.ErrNotPending when the candidate was already
	// decided.
	Approve(ctx context.Context, tenantID, candID uuid.UUID, reviewedBy *uuid.UUID, notes *string) (*models.Match, error)

	// Reject declines a pending candidate. When it was the lead's last
	// pending candidate the lead settles as unmatched.
	Reject(ctx context.Context, tenantID, candID uuid.UUID, reviewedBy *uuid.UUID, notes *string) error

	ListPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.MatchCandidate, error)

	// Sweep expires pending candidates past their TTL and settles leads
	// left with no pending candidates. Returns the number expired.
	Sweep(ctx context.Context) (int, error)
}

type reviewService struct {
	db         *database.DB
	leads      repositories.CanonicalLeadRepository
	crmLeads   repositories.CrmLeadRepository
	matches    repositories.MatchRepository
	candidates repositories.MatchCandidateRepository
	agents     repositories.AgentRepository
	lineage    repositories.LineageRepository
	logger     *zap.Logger
}

// NewReviewService creates a new ReviewService.
func NewReviewService(
	db *database.DB,
	leads repositories.CanonicalLeadRepository,
	crmLeads repositories.CrmLeadRepository,
	matches repositories.MatchRepository,
	candidates repositories.MatchCandidateRepository,
	agents repositories.AgentRepository,
	lineage repositories.LineageRepository,
	logger *zap.Logger,
) ReviewService {
	return &reviewService{
		db:         db,
		leads:      leads,
		crmLeads:   crmLeads,
		matches:    matches,
		candidates: candidates,
		agents:     agents,
		lineage:    lineage,
		logger:     logger.Named("review"),
	}
}

var _ ReviewService = (*reviewService)(nil)

func (s *reviewService) Approve(ctx context.Context, tenantID, candID uuid.UUID, reviewedBy *uuid.UUID, notes *string) (*models.Match, error) {
	var match *models.Match
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		cand, err := s.candidates.GetByID(ctx, tenantID, candID)
		if err != nil {
			return err
		}
		if cand.Status != models.CandidateStatusPending {
			return apperrors.ErrNotPending
		}

		match = &models.Match{
			TenantID:        cand.TenantID,
			CanonicalLeadID: cand.CanonicalLeadID,
			CrmLeadID:       cand.CrmLeadID,
			MatchType:       cand.MatchType,
			Confidence:      cand.ConfidenceScore,
			MatchDetails:    map[string]any{"candidate_id": cand.ID.String()},
			MatchedBy:       models.MatchedByManual,
			MatchedByUserID: reviewedBy,
			Status:          models.MatchStateActive,
		}
		s.attributeFromCrmLead(ctx, match)

		if err := s.matches.Create(ctx, match); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				// The lead gained an active match since this candidate
				// was queued.
				return apperrors.ErrConflict
			}
			return err
		}

		if err := s.candidates.Decide(ctx, cand.ID, models.CandidateStatusApproved, reviewedBy, notes, &match.ID); err != nil {
			return err
		}
		if _, err := s.candidates.RejectSiblings(ctx, cand.CanonicalLeadID, cand.ID, reviewedBy); err != nil {
			return err
		}
		if err := s.lineage.Create(ctx, &models.LineageEntry{
			TenantID:           cand.TenantID,
			SourceTable:        "match_candidates",
			SourceID:           cand.ID,
			TargetTable:        "lead_matches",
			TargetID:           match.ID,
			Operation:          models.LineageOpDerive,
			TransformationType: models.TransformationMatch,
			PerformedBy:        "review",
		}); err != nil {
			return err
		}
		return s.leads.SetMatchOutcome(ctx, cand.CanonicalLeadID, models.LeadMatchMatched, &cand.ConfidenceScore)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("candidate approved",
		zap.String("candidate_id", candID.String()),
		zap.String("match_id", match.ID.String()))
	return match, nil
}

func (s *reviewService) Reject(ctx context.Context, tenantID, candID uuid.UUID, reviewedBy *uuid.UUID, notes *string) error {
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		cand, err := s.candidates.GetByID(ctx, tenantID, candID)
		if err != nil {
			return err
		}
		if err := s.candidates.Decide(ctx, cand.ID, models.CandidateStatusRejected, reviewedBy, notes, nil); err != nil {
			return err
		}
		return s.resettle(ctx, cand.CanonicalLeadID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("candidate rejected", zap.String("candidate_id", candID.String()))
	return nil
}

func (s *reviewService) ListPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.MatchCandidate, error) {
	return s.candidates.ListPending(ctx, tenantID, limit)
}

func (s *reviewService) Sweep(ctx context.Context) (int, error) {
	var expired []*models.MatchCandidate
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		expired, err = s.candidates.ExpireOverdue(ctx, time.Now())
		if err != nil {
			return err
		}
		seen := make(map[uuid.UUID]bool)
		for _, cand := range expired {
			if seen[cand.CanonicalLeadID] {
				continue
			}
			seen[cand.CanonicalLeadID] = true
			if err := s.resettle(ctx, cand.CanonicalLeadID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		s.logger.Info("expired candidates", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// resettle recomputes a lead's match status from its remaining pending
// candidates: none left means unmatched, one means review, two or more
// keep the lead at multiple. Leads with an active match are left alone.
func (s *reviewService) resettle(ctx context.Context, canonicalLeadID uuid.UUID) error {
	if _, err := s.matches.GetActiveByCanonicalLead(ctx, canonicalLeadID); err == nil {
		return nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	remaining, err := s.candidates.ListPendingByCanonicalLead(ctx, canonicalLeadID)
	if err != nil {
		return err
	}
	switch len(remaining) {
	case 0:
		return s.leads.SetMatchOutcome(ctx, canonicalLeadID, models.LeadMatchUnmatched, nil)
	case 1:
		return s.leads.SetMatchOutcome(ctx, canonicalLeadID, models.LeadMatchReview, &remaining[0].ConfidenceScore)
	default:
		return nil
	}
}

// attributeFromCrmLead copies attribution from the CRM lead's assigned
// agent, when the roster knows them.
func (s *reviewService) attributeFromCrmLead(ctx context.Context, match *models.Match) {
	crmLead, err := s.crmLeads.GetByID(ctx, match.TenantID, match.CrmLeadID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("crm lead lookup failed", zap.Error(err))
		}
		return
	}
	if crmLead.AssignedUserID == "" {
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
