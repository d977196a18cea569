package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
)

// MatchCandidateRepository provides data access for the review queue.
type MatchCandidateRepository interface {
	// Upsert inserts a candidate or, when the (canonical, crm) pair already
	// exists in pending state, refreshes its score and expiry. Pairs
	// already decided keep their decision.
	Upsert(ctx context.Context, cand *models.MatchCandidate) error

	GetByID(ctx context.Context, tenantID, candID uuid.UUID) (*models.MatchCandidate, error)
	ListPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.MatchCandidate, error)
	ListPendingByCanonicalLead(ctx context.Context, canonicalLeadID uuid.UUID) ([]*models.MatchCandidate, error)

	// Decide moves a candidate out of pending. Returns
	// apperrors.ErrNotPending if the candidate was already decided.
	Decide(ctx context.Context, candID uuid.UUID, status models.CandidateStatus, reviewedBy *uuid.UUID, notes *string, leadMatchID *uuid.UUID) error

	// RejectSiblings rejects all other pending candidates for the same
	// canonical lead once one of them is approved.
	RejectSiblings(ctx context.Context, canonicalLeadID, approvedID uuid.UUID, reviewedBy *uuid.UUID) (int, error)

	// RejectStale rejects pending candidates for a lead whose CRM side is
	// not in keep, used when a re-score no longer produces them. An empty
	// keep rejects every pending candidate.
	RejectStale(ctx context.Context, canonicalLeadID uuid.UUID, keepCrmLeadIDs []uuid.UUID) (int, error)

	// ExpireOverdue marks pending candidates past their expiry as expired
	// and returns them so the caller can settle their leads.
	ExpireOverdue(ctx context.Context, now time.Time) ([]*models.MatchCandidate, error)
}

type matchCandidateRepository struct {
	db *database.DB
}

// NewMatchCandidateRepository creates a new MatchCandidateRepository.
func NewMatchCandidateRepository(db *database.DB) MatchCandidateRepository {
	return &matchCandidateRepository{db: db}
}

var _ MatchCandidateRepository = (*matchCandidateRepository)(nil)

func (r *matchCandidateRepository) Upsert(ctx context.Context, cand *models.MatchCandidate) error {
	if cand.Status == "" {
		cand.Status = models.CandidateStatusPending
	}

	query := `
		INSERT INTO match_candidates (
			tenant_id, canonical_lead_id, crm_lead_id, match_type,
			confidence_score, match_reasons, status, expires_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (canonical_lead_id, crm_lead_id) DO UPDATE
		SET match_type = EXCLUDED.match_type,
		    confidence_score = EXCLUDED.confidence_score,
		    match_reasons = EXCLUDED.match_reasons,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
		WHERE match_candidates.status = 'pending'
		RETURNING id, status, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		cand.TenantID,
		cand.CanonicalLeadID,
		cand.CrmLeadID,
		cand.MatchType,
		cand.ConfidenceScore,
		jsonbValue(cand.MatchReasons),
		cand.Status,
		cand.ExpiresAt,
	).Scan(&cand.ID, &cand.Status, &cand.CreatedAt, &cand.UpdatedAt)
	if err != nil {
		// No row returned means the pair exists but was already decided;
		// the decision stands.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to upsert match candidate: %w", err)
	}
	return nil
}

func (r *matchCandidateRepository) GetByID(ctx context.Context, tenantID, candID uuid.UUID) (*models.MatchCandidate, error) {
	query := matchCandidateSelect + ` WHERE tenant_id = $1 AND id = $2`

	cand, err := scanMatchCandidate(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, candID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return cand, nil
}

func (r *matchCandidateRepository) ListPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.MatchCandidate, error) {
	if limit <= 0 {
		limit = 100
	}
	query := matchCandidateSelect + `
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY confidence_score DESC, created_at
		LIMIT $2`

	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending candidates: %w", err)
	}
	defer rows.Close()
	return scanMatchCandidates(rows)
}

func (r *matchCandidateRepository) ListPendingByCanonicalLead(ctx context.Context, canonicalLeadID uuid.UUID) ([]*models.MatchCandidate, error) {
	query := matchCandidateSelect + `
		WHERE canonical_lead_id = $1 AND status = 'pending'
		ORDER BY confidence_score DESC`

	rows, err := r.db.Querier(ctx).Query(ctx, query, canonicalLeadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates for lead: %w", err)
	}
	defer rows.Close()
	return scanMatchCandidates(rows)
}

func (r *matchCandidateRepository) Decide(ctx context.Context, candID uuid.UUID, status models.CandidateStatus, reviewedBy *uuid.UUID, notes *string, leadMatchID *uuid.UUID) error {
	if !models.IsValidCandidateStatus(status) || status == models.CandidateStatusPending {
		return fmt.Errorf("invalid candidate decision %q", status)
	}

	query := `
		UPDATE match_candidates
		SET status = $2, reviewed_by = $3, reviewed_at = NOW(),
		    review_notes = $4, lead_match_id = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, candID, status, reviewedBy, notes, leadMatchID)
	if err != nil {
		return fmt.Errorf("failed to decide candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already decided; disambiguate for the 404/409
		// split at the handler.
		var exists bool
		err := r.db.Querier(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM match_candidates WHERE id = $1)`, candID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check candidate existence: %w", err)
		}
		if !exists {
			return apperrors.ErrNotFound
		}
		return apperrors.ErrNotPending
	}
	return nil
}

func (r *matchCandidateRepository) RejectSiblings(ctx context.Context, canonicalLeadID, approvedID uuid.UUID, reviewedBy *uuid.UUID) (int, error) {
	query := `
		UPDATE match_candidates
		SET status = 'rejected', reviewed_by = $3, reviewed_at = NOW(),
		    review_notes = 'superseded by approved candidate', updated_at = NOW()
		WHERE canonical_lead_id = $1 AND id <> $2 AND status = 'pending'`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, canonicalLeadID, approvedID, reviewedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to reject sibling candidates: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *matchCandidateRepository) RejectStale(ctx context.Context, canonicalLeadID uuid.UUID, keepCrmLeadIDs []uuid.UUID) (int, error) {
	if keepCrmLeadIDs == nil {
		keepCrmLeadIDs = []uuid.UUID{}
	}
	query := `
		UPDATE match_candidates
		SET status = 'rejected', reviewed_at = NOW(),
		    review_notes = 'superseded', updated_at = NOW()
		WHERE canonical_lead_id = $1 AND status = 'pending'
		  AND crm_lead_id <> ALL($2)`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, canonicalLeadID, keepCrmLeadIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to reject stale candidates: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *matchCandidateRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]*models.MatchCandidate, error) {
	query := `
		UPDATE match_candidates
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING id, tenant_id, canonical_lead_id, crm_lead_id, match_type,
		          confidence_score, match_reasons, status, expires_at,
		          reviewed_by, reviewed_at, review_notes, lead_match_id,
		          created_at, updated_at`

	rows, err := r.db.Querier(ctx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire candidates: %w", err)
	}
	defer rows.Close()
	return scanMatchCandidates(rows)
}

const matchCandidateSelect = `
	SELECT id, tenant_id, canonical_lead_id, crm_lead_id, match_type,
	       confidence_score, match_reasons, status, expires_at,
	       reviewed_by, reviewed_at, review_notes, lead_match_id,
	       created_at, updated_at
	FROM match_candidates`

func scanMatchCandidate(row pgx.Row) (*models.MatchCandidate, error) {
	var cand models.MatchCandidate
	var reasons []byte

	err := row.Scan(
		&cand.ID,
		&cand.TenantID,
		&cand.CanonicalLeadID,
		&cand.CrmLeadID,
		&cand.MatchType,
		&cand.ConfidenceScore,
		&reasons,
		&cand.Status,
		&cand.ExpiresAt,
		&cand.ReviewedBy,
		&cand.ReviewedAt,
		&cand.ReviewNotes,
		&cand.LeadMatchID,
		&cand.CreatedAt,
		&cand.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan match candidate: %w", err)
	}

	if err := unmarshalJSONB(reasons, &cand.MatchReasons); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match reasons: %w", err)
	}
	return &cand, nil
}

func scanMatchCandidates(rows pgx.Rows) ([]*models.MatchCandidate, error) {
	var cands []*models.MatchCandidate
	for rows.Next() {
		cand, err := scanMatchCandidate(rows)
		if err != nil {
			return nil, err
		}
		cands = append(cands, cand)
	}
	return cands, rows.Err()
}
