package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
)

// MatchRepository provides data access for committed matches.
type MatchRepository interface {
	// Create inserts a new match. A partial unique index allows at most
	// one active match per canonical lead; violating either that or the
	// (canonical, crm) pair uniqueness returns apperrors.ErrConflict.
	Create(ctx context.Context, match *models.Match) error
	GetByID(ctx context.Context, tenantID, matchID uuid.UUID) (*models.Match, error)
	GetActiveByCanonicalLead(ctx context.Context, canonicalLeadID uuid.UUID) (*models.Match, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.Match, error)
	SetStatus(ctx context.Context, matchID uuid.UUID, status models.MatchState) error
}

type matchRepository struct {
	db *database.DB
}

// NewMatchRepository creates a new MatchRepository.
func NewMatchRepository(db *database.DB) MatchRepository {
	return &matchRepository{db: db}
}

var _ MatchRepository = (*matchRepository)(nil)

func (r *matchRepository) Create(ctx context.Context, match *models.Match) error {
	if match.Status == "" {
		match.Status = models.MatchStateActive
	}

	query := `
		INSERT INTO lead_matches (
			tenant_id, canonical_lead_id, crm_lead_id, match_type, confidence,
			match_details, matched_by, matched_by_user_id,
			attributed_team_id, attributed_agent_id, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		match.TenantID,
		match.CanonicalLeadID,
		match.CrmLeadID,
		match.MatchType,
		match.Confidence,
		jsonbValue(match.MatchDetails),
		match.MatchedBy,
		match.MatchedByUserID,
		match.AttributedTeamID,
		match.AttributedAgentID,
		match.Status,
	).Scan(&match.ID, &match.CreatedAt, &match.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *matchRepository) GetByID(ctx context.Context, tenantID, matchID uuid.UUID) (*models.Match, error) {
	query := matchSelect + ` WHERE tenant_id = $1 AND id = $2`

	match, err := scanMatch(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return match, nil
}

func (r *matchRepository) GetActiveByCanonicalLead(ctx context.Context, canonicalLeadID uuid.UUID) (*models.Match, error) {
	query := matchSelect + ` WHERE canonical_lead_id = $1 AND status = $2`

	match, err := scanMatch(r.db.Querier(ctx).QueryRow(ctx, query, canonicalLeadID, models.MatchStateActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return match, nil
}

func (r *matchRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.Match, error) {
	if limit <= 0 {
		limit = 100
	}
	query := matchSelect + ` WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func (r *matchRepository) SetStatus(ctx context.Context, matchID uuid.UUID, status models.MatchState) error {
	query := `UPDATE lead_matches SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, matchID, status)
	if err != nil {
		return fmt.Errorf("failed to set match status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

const matchSelect = `
	SELECT id, tenant_id, canonical_lead_id, crm_lead_id, match_type,
	       confidence, match_details, matched_by, matched_by_user_id,
	       attributed_team_id, attributed_agent_id, status,
	       created_at, updated_at
	FROM lead_matches`

func scanMatch(row pgx.Row) (*models.Match, error) {
	var match models.Match
	var details []byte

	err := row.Scan(
		&match.ID,
		&match.TenantID,
		&match.CanonicalLeadID,
		&match.CrmLeadID,
		&match.MatchType,
		&match.Confidence,
		&details,
		&match.MatchedBy,
		&match.MatchedByUserID,
		&match.AttributedTeamID,
		&match.AttributedAgentID,
		&match.Status,
		&match.CreatedAt,
		&match.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}

	if err := unmarshalJSONB(details, &match.MatchDetails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match details: %w", err)
	}
	return &match, nil
}
