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

// CrmConnectionRepository provides data access for CRM account connections.
type CrmConnectionRepository interface {
	Create(ctx context.Context, conn *models.CrmConnection) error
	GetByID(ctx context.Context, tenantID, connID uuid.UUID) (*models.CrmConnection, error)
	ListActive(ctx context.Context) ([]*models.CrmConnection, error)

	// RecordSyncOutcome advances the incremental-sync cursor. lastSyncAt is
	// the time the sync run STARTED, not when it finished, so records
	// updated while the run was paging are picked up again next run.
	RecordSyncOutcome(ctx context.Context, connID uuid.UUID, lastSyncAt time.Time, status models.SyncStatus) error
}

type crmConnectionRepository struct {
	db *database.DB
}

// NewCrmConnectionRepository creates a new CrmConnectionRepository.
func NewCrmConnectionRepository(db *database.DB) CrmConnectionRepository {
	return &crmConnectionRepository{db: db}
}

var _ CrmConnectionRepository = (*crmConnectionRepository)(nil)

func (r *crmConnectionRepository) Create(ctx context.Context, conn *models.CrmConnection) error {
	query := `
		INSERT INTO crm_connections (
			tenant_id, name, base_url, api_key, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		conn.TenantID,
		conn.Name,
		conn.BaseURL,
		conn.APIKey,
		conn.IsActive,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create crm connection: %w", err)
	}
	return nil
}

func (r *crmConnectionRepository) GetByID(ctx context.Context, tenantID, connID uuid.UUID) (*models.CrmConnection, error) {
	query := crmConnectionSelect + ` WHERE tenant_id = $1 AND id = $2`

	conn, err := scanCrmConnection(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, connID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

// ListActive returns active connections across all tenants. The sync worker
// iterates every tenant's connections in one pass.
func (r *crmConnectionRepository) ListActive(ctx context.Context) ([]*models.CrmConnection, error) {
	query := crmConnectionSelect + ` WHERE is_active ORDER BY created_at`

	rows, err := r.db.Querier(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list crm connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.CrmConnection
	for rows.Next() {
		conn, err := scanCrmConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *crmConnectionRepository) RecordSyncOutcome(ctx context.Context, connID uuid.UUID, lastSyncAt time.Time, status models.SyncStatus) error {
	query := `
		UPDATE crm_connections
		SET last_sync_at = $2, last_sync_status = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, connID, lastSyncAt, status)
	if err != nil {
		return fmt.Errorf("failed to record sync outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

const crmConnectionSelect = `
	SELECT id, tenant_id, name, base_url, api_key, is_active,
	       last_sync_at, last_sync_status, created_at, updated_at
	FROM crm_connections`

func scanCrmConnection(row pgx.Row) (*models.CrmConnection, error) {
	var conn models.CrmConnection
	var lastStatus *string

	err := row.Scan(
		&conn.ID,
		&conn.TenantID,
		&conn.Name,
		&conn.BaseURL,
		&conn.APIKey,
		&conn.IsActive,
		&conn.LastSyncAt,
		&lastStatus,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan crm connection: %w", err)
	}
	if lastStatus != nil {
		conn.LastSyncStatus = models.SyncStatus(*lastStatus)
	}
	return &conn, nil
}
