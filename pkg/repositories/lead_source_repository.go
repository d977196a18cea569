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

// LeadSourceRepository provides data access for configured lead sources.
type LeadSourceRepository interface {
	Create(ctx context.Context, source *models.LeadSource) error
	Update(ctx context.Context, source *models.LeadSource) error
	GetByID(ctx context.Context, tenantID, sourceID uuid.UUID) (*models.LeadSource, error)
	GetBySlug(ctx context.Context, tenantID uuid.UUID, slug string) (*models.LeadSource, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.LeadSource, error)
}

type leadSourceRepository struct {
	db *database.DB
}

// NewLeadSourceRepository creates a new LeadSourceRepository.
func NewLeadSourceRepository(db *database.DB) LeadSourceRepository {
	return &leadSourceRepository{db: db}
}

var _ LeadSourceRepository = (*leadSourceRepository)(nil)

func (r *leadSourceRepository) Create(ctx context.Context, source *models.LeadSource) error {
	now := time.Now()

	query := `
		INSERT INTO lead_sources (
			tenant_id, slug, display_name, csv_config, field_mapping,
			validation_rules, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		source.TenantID,
		source.Slug,
		source.DisplayName,
		jsonbValue(source.CSVConfig),
		jsonbValue(source.FieldMapping),
		jsonbValue(source.ValidationRules),
		source.IsActive,
		now,
		now,
	).Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lead source: %w", err)
	}
	return nil
}

func (r *leadSourceRepository) Update(ctx context.Context, source *models.LeadSource) error {
	query := `
		UPDATE lead_sources
		SET display_name = $3, csv_config = $4, field_mapping = $5,
		    validation_rules = $6, is_active = $7, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		source.TenantID,
		source.ID,
		source.DisplayName,
		jsonbValue(source.CSVConfig),
		jsonbValue(source.FieldMapping),
		jsonbValue(source.ValidationRules),
		source.IsActive,
	).Scan(&source.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update lead source: %w", err)
	}
	return nil
}

func (r *leadSourceRepository) GetByID(ctx context.Context, tenantID, sourceID uuid.UUID) (*models.LeadSource, error) {
	query := leadSourceSelect + ` WHERE tenant_id = $1 AND id = $2`
	return r.scanOne(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, sourceID))
}

func (r *leadSourceRepository) GetBySlug(ctx context.Context, tenantID uuid.UUID, slug string) (*models.LeadSource, error) {
	query := leadSourceSelect + ` WHERE tenant_id = $1 AND slug = $2`
	return r.scanOne(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, slug))
}

func (r *leadSourceRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.LeadSource, error) {
	query := leadSourceSelect + ` WHERE tenant_id = $1 ORDER BY slug`

	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lead sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.LeadSource
	for rows.Next() {
		source, err := scanLeadSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

const leadSourceSelect = `
	SELECT id, tenant_id, slug, display_name, csv_config, field_mapping,
	       validation_rules, is_active, created_at, updated_at
	FROM lead_sources`

func (r *leadSourceRepository) scanOne(row pgx.Row) (*models.LeadSource, error) {
	source, err := scanLeadSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return source, nil
}

func scanLeadSource(row pgx.Row) (*models.LeadSource, error) {
	var source models.LeadSource
	var csvConfig, fieldMapping, validationRules []byte

	err := row.Scan(
		&source.ID,
		&source.TenantID,
		&source.Slug,
		&source.DisplayName,
		&csvConfig,
		&fieldMapping,
		&validationRules,
		&source.IsActive,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan lead source: %w", err)
	}

	if err := unmarshalJSONB(csvConfig, &source.CSVConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal csv_config: %w", err)
	}
	if err := unmarshalJSONB(fieldMapping, &source.FieldMapping); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field_mapping: %w", err)
	}
	if err := unmarshalJSONB(validationRules, &source.ValidationRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validation_rules: %w", err)
	}
	return &source, nil
}
