package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
)

// CanonicalLeadRepository provides data access for normalized external leads.
type CanonicalLeadRepository interface {
	Create(ctx context.Context, lead *models.CanonicalLead) error
	GetByID(ctx context.Context, tenantID, leadID uuid.UUID) (*models.CanonicalLead, error)

	// FindBySourceRecordID looks up an existing lead from the same source
	// carrying the same source-assigned record id, for cross-batch dedup.
	FindBySourceRecordID(ctx context.Context, tenantID, sourceID uuid.UUID, sourceRecordID string) (*models.CanonicalLead, error)

	// FindByIdentity looks up an existing lead from the same source with
	// the same normalized email or phone, for cross-batch dedup of rows
	// without a source record id.
	FindByIdentity(ctx context.Context, tenantID, sourceID uuid.UUID, emailNorm, phoneNorm string) (*models.CanonicalLead, error)

	// ClaimPendingMatch atomically claims up to limit leads awaiting
	// matching. Claimed leads stay pending until the matcher writes a
	// terminal status, so the claim is only a lock for the enclosing
	// transaction.
	ClaimPendingMatch(ctx context.Context, limit int) ([]*models.CanonicalLead, error)

	SetMatchOutcome(ctx context.Context, leadID uuid.UUID, status models.LeadMatchStatus, confidence *float64) error
	SetEmbedding(ctx context.Context, leadID uuid.UUID, embedding pgvector.Vector, text string) error
	CountByMatchStatus(ctx context.Context, tenantID uuid.UUID) (map[models.LeadMatchStatus]int, error)
}

type canonicalLeadRepository struct {
	db *database.DB
}

// NewCanonicalLeadRepository creates a new CanonicalLeadRepository.
func NewCanonicalLeadRepository(db *database.DB) CanonicalLeadRepository {
	return &canonicalLeadRepository{db: db}
}

var _ CanonicalLeadRepository = (*canonicalLeadRepository)(nil)

func (r *canonicalLeadRepository) Create(ctx context.Context, lead *models.CanonicalLead) error {
	if lead.MatchStatus == "" {
		lead.MatchStatus = models.LeadMatchPending
	}

	query := `
		INSERT INTO canonical_leads (
			tenant_id, lead_source_id, first_name, last_name, email, phone,
			address, city, state, zip, lead_type,
			email_normalized, phone_normalized, address_normalized,
			source_record_id, source_created_at, match_status, raw_data,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		          $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		lead.TenantID,
		lead.LeadSourceID,
		lead.FirstName,
		lead.LastName,
		lead.Email,
		lead.Phone,
		lead.Address,
		lead.City,
		lead.State,
		lead.Zip,
		lead.LeadType,
		lead.EmailNormalized,
		lead.PhoneNormalized,
		lead.AddressNormalized,
		lead.SourceRecordID,
		lead.SourceCreatedAt,
		lead.MatchStatus,
		jsonbValue(lead.RawData),
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create canonical lead: %w", err)
	}
	return nil
}

func (r *canonicalLeadRepository) GetByID(ctx context.Context, tenantID, leadID uuid.UUID) (*models.CanonicalLead, error) {
	query := canonicalLeadSelect + ` WHERE tenant_id = $1 AND id = $2`

	lead, err := scanCanonicalLead(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, leadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (r *canonicalLeadRepository) FindBySourceRecordID(ctx context.Context, tenantID, sourceID uuid.UUID, sourceRecordID string) (*models.CanonicalLead, error) {
	if sourceRecordID == "" {
		return nil, apperrors.ErrNotFound
	}
	query := canonicalLeadSelect + `
		WHERE tenant_id = $1 AND lead_source_id = $2 AND source_record_id = $3
		ORDER BY created_at
		LIMIT 1`

	lead, err := scanCanonicalLead(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, sourceID, sourceRecordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (r *canonicalLeadRepository) FindByIdentity(ctx context.Context, tenantID, sourceID uuid.UUID, emailNorm, phoneNorm string) (*models.CanonicalLead, error) {
	if emailNorm == "" && phoneNorm == "" {
		return nil, apperrors.ErrNotFound
	}
	query := canonicalLeadSelect + `
		WHERE tenant_id = $1 AND lead_source_id = $2
		  AND (($3 <> '' AND email_normalized = $3) OR ($4 <> '' AND phone_normalized = $4))
		ORDER BY created_at
		LIMIT 1`

	lead, err := scanCanonicalLead(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, sourceID, emailNorm, phoneNorm))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (r *canonicalLeadRepository) ClaimPendingMatch(ctx context.Context, limit int) ([]*models.CanonicalLead, error) {
	query := canonicalLeadSelect + `
		WHERE match_status = $1
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $2`

	rows, err := r.db.Querier(ctx).Query(ctx, query, models.LeadMatchPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending leads: %w", err)
	}
	defer rows.Close()

	var leads []*models.CanonicalLead
	for rows.Next() {
		lead, err := scanCanonicalLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (r *canonicalLeadRepository) SetMatchOutcome(ctx context.Context, leadID uuid.UUID, status models.LeadMatchStatus, confidence *float64) error {
	if !models.IsValidLeadMatchStatus(status) {
		return fmt.Errorf("%w: match status %q", apperrors.ErrInvariant, status)
	}

	query := `
		UPDATE canonical_leads
		SET match_status = $2, match_confidence = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, leadID, status, confidence)
	if err != nil {
		return fmt.Errorf("failed to set match outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *canonicalLeadRepository) SetEmbedding(ctx context.Context, leadID uuid.UUID, embedding pgvector.Vector, text string) error {
	query := `
		UPDATE canonical_leads
		SET embedding = $2, embedding_text = $3, embedded_at = $4, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, leadID, embedding, text, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set canonical lead embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *canonicalLeadRepository) CountByMatchStatus(ctx context.Context, tenantID uuid.UUID) (map[models.LeadMatchStatus]int, error) {
	query := `
		SELECT match_status, COUNT(*)
		FROM canonical_leads
		WHERE tenant_id = $1
		GROUP BY match_status`

	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count leads by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.LeadMatchStatus]int)
	for rows.Next() {
		var status models.LeadMatchStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const canonicalLeadSelect = `
	SELECT id, tenant_id, lead_source_id, first_name, last_name, email, phone,
	       address, city, state, zip, lead_type,
	       email_normalized, phone_normalized, address_normalized,
	       source_record_id, source_created_at, match_status, match_confidence,
	       embedding_text, embedded_at, raw_data, created_at, updated_at
	FROM canonical_leads`

func scanCanonicalLead(row pgx.Row) (*models.CanonicalLead, error) {
	var lead models.CanonicalLead
	var rawData []byte

	err := row.Scan(
		&lead.ID,
		&lead.TenantID,
		&lead.LeadSourceID,
		&lead.FirstName,
		&lead.LastName,
		&lead.Email,
		&lead.Phone,
		&lead.Address,
		&lead.City,
		&lead.State,
		&lead.Zip,
		&lead.LeadType,
		&lead.EmailNormalized,
		&lead.PhoneNormalized,
		&lead.AddressNormalized,
		&lead.SourceRecordID,
		&lead.SourceCreatedAt,
		&lead.MatchStatus,
		&lead.MatchConfidence,
		&lead.EmbeddingText,
		&lead.EmbeddedAt,
		&rawData,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan canonical lead: %w", err)
	}

	if err := unmarshalJSONB(rawData, &lead.RawData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw_data: %w", err)
	}
	return &lead, nil
}
