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

// CrmLeadRepository provides data access for the mirrored CRM lead table.
type CrmLeadRepository interface {
	Create(ctx context.Context, lead *models.CrmLead) error
	Update(ctx context.Context, lead *models.CrmLead) error
	GetByID(ctx context.Context, tenantID, leadID uuid.UUID) (*models.CrmLead, error)
	GetByExternalID(ctx context.Context, connID uuid.UUID, externalID string) (*models.CrmLead, error)

	// FindMatchCandidates returns CRM leads that share a normalized email,
	// a normalized phone, or a trigram-similar address with the given keys.
	// Empty keys are skipped. simThreshold bounds the address candidate
	// pre-filter; precise scoring happens in the matcher. Results come
	// back ordered by (created_at, id) so equal-confidence ties break
	// the same way on every run.
	FindMatchCandidates(ctx context.Context, tenantID uuid.UUID, emailNorm, phoneNorm, addressNorm string, simThreshold float64) ([]*models.CrmLead, error)

	SetEmbedding(ctx context.Context, leadID uuid.UUID, embedding pgvector.Vector, text string) error
}

type crmLeadRepository struct {
	db *database.DB
}

// NewCrmLeadRepository creates a new CrmLeadRepository.
func NewCrmLeadRepository(db *database.DB) CrmLeadRepository {
	return &crmLeadRepository{db: db}
}

var _ CrmLeadRepository = (*crmLeadRepository)(nil)

func (r *crmLeadRepository) Create(ctx context.Context, lead *models.CrmLead) error {
	if lead.LastSyncedAt.IsZero() {
		lead.LastSyncedAt = time.Now()
	}

	query := `
		INSERT INTO crm_leads (
			tenant_id, crm_connection_id, external_id, first_name, last_name,
			email, phone, address,
			email_normalized, phone_normalized, address_normalized,
			stage, source, tags,
			assigned_user_id, assigned_user_name, assigned_user_email,
			remote_updated_at, sync_hash, last_synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		          $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		lead.TenantID,
		lead.CrmConnectionID,
		lead.ExternalID,
		lead.FirstName,
		lead.LastName,
		lead.Email,
		lead.Phone,
		lead.Address,
		lead.EmailNormalized,
		lead.PhoneNormalized,
		lead.AddressNormalized,
		lead.Stage,
		lead.Source,
		jsonbValue(lead.Tags),
		lead.AssignedUserID,
		lead.AssignedUserName,
		lead.AssignedUserEmail,
		lead.RemoteUpdatedAt,
		lead.SyncHash,
		lead.LastSyncedAt,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create crm lead: %w", err)
	}
	return nil
}

func (r *crmLeadRepository) Update(ctx context.Context, lead *models.CrmLead) error {
	query := `
		UPDATE crm_leads
		SET first_name = $2, last_name = $3, email = $4, phone = $5, address = $6,
		    email_normalized = $7, phone_normalized = $8, address_normalized = $9,
		    stage = $10, source = $11, tags = $12,
		    assigned_user_id = $13, assigned_user_name = $14, assigned_user_email = $15,
		    remote_updated_at = $16, sync_hash = $17, last_synced_at = $18,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		lead.ID,
		lead.FirstName,
		lead.LastName,
		lead.Email,
		lead.Phone,
		lead.Address,
		lead.EmailNormalized,
		lead.PhoneNormalized,
		lead.AddressNormalized,
		lead.Stage,
		lead.Source,
		jsonbValue(lead.Tags),
		lead.AssignedUserID,
		lead.AssignedUserName,
		lead.AssignedUserEmail,
		lead.RemoteUpdatedAt,
		lead.SyncHash,
		lead.LastSyncedAt,
	).Scan(&lead.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update crm lead: %w", err)
	}
	return nil
}

func (r *crmLeadRepository) GetByID(ctx context.Context, tenantID, leadID uuid.UUID) (*models.CrmLead, error) {
	query := crmLeadSelect + ` WHERE tenant_id = $1 AND id = $2`

	lead, err := scanCrmLead(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, leadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (r *crmLeadRepository) GetByExternalID(ctx context.Context, connID uuid.UUID, externalID string) (*models.CrmLead, error) {
	query := crmLeadSelect + ` WHERE crm_connection_id = $1 AND external_id = $2`

	lead, err := scanCrmLead(r.db.Querier(ctx).QueryRow(ctx, query, connID, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return lead, nil
}

func (r *crmLeadRepository) FindMatchCandidates(ctx context.Context, tenantID uuid.UUID, emailNorm, phoneNorm, addressNorm string, simThreshold float64) ([]*models.CrmLead, error) {
	if emailNorm == "" && phoneNorm == "" && addressNorm == "" {
		return nil, nil
	}

	// The trigram GIN index on address_normalized serves the similarity
	// branch; email and phone hit their own b-tree indexes.
	query := crmLeadSelect + `
		WHERE tenant_id = $1
		  AND (
			($2 <> '' AND email_normalized = $2)
			OR ($3 <> '' AND phone_normalized = $3)
			OR ($4 <> '' AND address_normalized <> '' AND similarity(address_normalized, $4) > $5)
		  )
		ORDER BY created_at, id`

	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID, emailNorm, phoneNorm, addressNorm, simThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find match candidates: %w", err)
	}
	defer rows.Close()

	var leads []*models.CrmLead
	for rows.Next() {
		lead, err := scanCrmLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (r *crmLeadRepository) SetEmbedding(ctx context.Context, leadID uuid.UUID, embedding pgvector.Vector, text string) error {
	query := `
		UPDATE crm_leads
		SET embedding = $2, embedding_text = $3, embedded_at = $4, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, leadID, embedding, text, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set crm lead embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

const crmLeadSelect = `
	SELECT id, tenant_id, crm_connection_id, external_id, first_name, last_name,
	       email, phone, address,
	       email_normalized, phone_normalized, address_normalized,
	       stage, source, tags,
	       assigned_user_id, assigned_user_name, assigned_user_email,
	       remote_updated_at, sync_hash, embedding_text, embedded_at,
	       last_synced_at, created_at, updated_at
	FROM crm_leads`

func scanCrmLead(row pgx.Row) (*models.CrmLead, error) {
	var lead models.CrmLead
	var tags []byte

	err := row.Scan(
		&lead.ID,
		&lead.TenantID,
		&lead.CrmConnectionID,
		&lead.ExternalID,
		&lead.FirstName,
		&lead.LastName,
		&lead.Email,
		&lead.Phone,
		&lead.Address,
		&lead.EmailNormalized,
		&lead.PhoneNormalized,
		&lead.AddressNormalized,
		&lead.Stage,
		&lead.Source,
		&tags,
		&lead.AssignedUserID,
		&lead.AssignedUserName,
		&lead.AssignedUserEmail,
		&lead.RemoteUpdatedAt,
		&lead.SyncHash,
		&lead.EmbeddingText,
		&lead.EmbeddedAt,
		&lead.LastSyncedAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan crm lead: %w", err)
	}

	if err := unmarshalJSONB(tags, &lead.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return &lead, nil
}
