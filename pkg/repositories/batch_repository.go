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

// BatchRepository provides data access for ingestion batches.
type BatchRepository interface {
	Create(ctx context.Context, batch *models.Batch) error
	GetByID(ctx context.Context, tenantID, batchID uuid.UUID) (*models.Batch, error)
	GetByFileHash(ctx context.Context, tenantID uuid.UUID, fileHash string) (*models.Batch, error)
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.Batch, error)

	// ClaimPending atomically moves up to limit batches in fromStatus into
	// toStatus and returns them. Concurrent workers never claim the same
	// batch.
	ClaimPending(ctx context.Context, fromStatus, toStatus models.BatchStatus, limit int) ([]*models.Batch, error)

	UpdateStatus(ctx context.Context, batchID uuid.UUID, status models.BatchStatus) error
	UpdateCounts(ctx context.Context, batch *models.Batch) error
	AppendLog(ctx context.Context, batchID uuid.UUID, entry models.BatchLogEntry) error
	AppendError(ctx context.Context, batchID uuid.UUID, message string) error
}

type batchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new BatchRepository.
func NewBatchRepository(db *database.DB) BatchRepository {
	return &batchRepository{db: db}
}

var _ BatchRepository = (*batchRepository)(nil)

func (r *batchRepository) Create(ctx context.Context, batch *models.Batch) error {
	now := time.Now()
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = now
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusPending
	}

	query := `
		INSERT INTO ingestion_batches (
			tenant_id, lead_source_id, filename, file_ref, file_hash,
			received_at, status, total_rows, parsed_rows, valid_rows,
			duplicate_rows, error_rows, log, errors, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		batch.TenantID,
		batch.LeadSourceID,
		batch.Filename,
		batch.FileRef,
		batch.FileHash,
		batch.ReceivedAt,
		batch.Status,
		batch.TotalRows,
		batch.ParsedRows,
		batch.ValidRows,
		batch.DuplicateRows,
		batch.ErrorRows,
		jsonbValue(batch.Log),
		jsonbValue(batch.Errors),
		now,
	).Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *batchRepository) GetByID(ctx context.Context, tenantID, batchID uuid.UUID) (*models.Batch, error) {
	query := batchSelect + ` WHERE tenant_id = $1 AND id = $2`

	batch, err := scanBatch(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return batch, nil
}

func (r *batchRepository) GetByFileHash(ctx context.Context, tenantID uuid.UUID, fileHash string) (*models.Batch, error) {
	query := batchSelect + ` WHERE tenant_id = $1 AND file_hash = $2 ORDER BY received_at DESC LIMIT 1`

	batch, err := scanBatch(r.db.Querier(ctx).QueryRow(ctx, query, tenantID, fileHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return batch, nil
}

func (r *batchRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	query := batchSelect + ` WHERE tenant_id = $1 ORDER BY received_at DESC LIMIT $2`

	rows, err := r.db.Querier(ctx).Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *batchRepository) ClaimPending(ctx context.Context, fromStatus, toStatus models.BatchStatus, limit int) ([]*models.Batch, error) {
	query := `
		UPDATE ingestion_batches
		SET status = $2, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM ingestion_batches
			WHERE status = $1
			ORDER BY received_at
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, tenant_id, lead_source_id, filename, file_ref, file_hash,
		          received_at, status, total_rows, parsed_rows, valid_rows,
		          duplicate_rows, error_rows, log, errors, created_at, updated_at`

	rows, err := r.db.Querier(ctx).Query(ctx, query, fromStatus, toStatus, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *batchRepository) UpdateStatus(ctx context.Context, batchID uuid.UUID, status models.BatchStatus) error {
	query := `UPDATE ingestion_batches SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, batchID, status)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *batchRepository) UpdateCounts(ctx context.Context, batch *models.Batch) error {
	query := `
		UPDATE ingestion_batches
		SET total_rows = $2, parsed_rows = $3, valid_rows = $4,
		    duplicate_rows = $5, error_rows = $6, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query,
		batch.ID,
		batch.TotalRows,
		batch.ParsedRows,
		batch.ValidRows,
		batch.DuplicateRows,
		batch.ErrorRows,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *batchRepository) AppendLog(ctx context.Context, batchID uuid.UUID, entry models.BatchLogEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	query := `
		UPDATE ingestion_batches
		SET log = COALESCE(log, '[]'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, batchID, jsonbValue(entry))
	if err != nil {
		return fmt.Errorf("failed to append batch log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *batchRepository) AppendError(ctx context.Context, batchID uuid.UUID, message string) error {
	query := `
		UPDATE ingestion_batches
		SET errors = COALESCE(errors, '[]'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, batchID, jsonbValue(message))
	if err != nil {
		return fmt.Errorf("failed to append batch error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

const batchSelect = `
	SELECT id, tenant_id, lead_source_id, filename, file_ref, file_hash,
	       received_at, status, total_rows, parsed_rows, valid_rows,
	       duplicate_rows, error_rows, log, errors, created_at, updated_at
	FROM ingestion_batches`

func scanBatch(row pgx.Row) (*models.Batch, error) {
	var batch models.Batch
	var log, errs []byte

	err := row.Scan(
		&batch.ID,
		&batch.TenantID,
		&batch.LeadSourceID,
		&batch.Filename,
		&batch.FileRef,
		&batch.FileHash,
		&batch.ReceivedAt,
		&batch.Status,
		&batch.TotalRows,
		&batch.ParsedRows,
		&batch.ValidRows,
		&batch.DuplicateRows,
		&batch.ErrorRows,
		&log,
		&errs,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}

	if err := unmarshalJSONB(log, &batch.Log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch log: %w", err)
	}
	if err := unmarshalJSONB(errs, &batch.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch errors: %w", err)
	}
	return &batch, nil
}

func scanBatches(rows pgx.Rows) ([]*models.Batch, error) {
	var batches []*models.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}
