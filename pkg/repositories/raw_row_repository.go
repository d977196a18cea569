package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
)

// RawRowRepository provides data access for staged CSV rows.
type RawRowRepository interface {
	BulkInsert(ctx context.Context, rows []*models.RawRow) error
	ListByBatch(ctx context.Context, tenantID, batchID uuid.UUID) ([]*models.RawRow, error)
	ListValidUnprocessed(ctx context.Context, tenantID, batchID uuid.UUID) ([]*models.RawRow, error)
	MarkDuplicate(ctx context.Context, rowID, duplicateOf uuid.UUID) error
	SetCanonicalLead(ctx context.Context, rowID, canonicalLeadID uuid.UUID) error
}

type rawRowRepository struct {
	db *database.DB
}

// NewRawRowRepository creates a new RawRowRepository.
func NewRawRowRepository(db *database.DB) RawRowRepository {
	return &rawRowRepository{db: db}
}

var _ RawRowRepository = (*rawRowRepository)(nil)

func (r *rawRowRepository) BulkInsert(ctx context.Context, rows []*models.RawRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO raw_lead_rows (
			tenant_id, batch_id, row_number, raw_data, is_valid,
			validation_errors, is_duplicate, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at`

	// One statement per row inside the caller's transaction. Batches top
	// out at tens of thousands of rows, which pgx's implicit pipeline
	// handles without a COPY.
	q := r.db.Querier(ctx)
	for _, row := range rows {
		err := q.QueryRow(ctx, query,
			row.TenantID,
			row.BatchID,
			row.RowNumber,
			jsonbValue(row.RawData),
			row.IsValid,
			jsonbValue(row.ValidationErrors),
			row.IsDuplicate,
		).Scan(&row.ID, &row.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert raw row %d: %w", row.RowNumber, err)
		}
	}
	return nil
}

func (r *rawRowRepository) ListByBatch(ctx context.Context, tenantID, batchID uuid.UUID) ([]*models.RawRow, error) {
	query := rawRowSelect + ` WHERE tenant_id = $1 AND batch_id = $2 ORDER BY row_number`
	return r.queryRows(ctx, query, tenantID, batchID)
}

// ListValidUnprocessed returns valid rows not yet linked to a canonical
// lead and not flagged as duplicates, in file order. The transformer uses
// this so a re-run after a partial failure only touches remaining rows.
func (r *rawRowRepository) ListValidUnprocessed(ctx context.Context, tenantID, batchID uuid.UUID) ([]*models.RawRow, error) {
	query := rawRowSelect + `
		WHERE tenant_id = $1 AND batch_id = $2
		  AND is_valid AND NOT is_duplicate AND canonical_lead_id IS NULL
		ORDER BY row_number`
	return r.queryRows(ctx, query, tenantID, batchID)
}

func (r *rawRowRepository) MarkDuplicate(ctx context.Context, rowID, duplicateOf uuid.UUID) error {
	query := `UPDATE raw_lead_rows SET is_duplicate = TRUE, duplicate_of = $2 WHERE id = $1`

	if _, err := r.db.Querier(ctx).Exec(ctx, query, rowID, duplicateOf); err != nil {
		return fmt.Errorf("failed to mark raw row duplicate: %w", err)
	}
	return nil
}

func (r *rawRowRepository) SetCanonicalLead(ctx context.Context, rowID, canonicalLeadID uuid.UUID) error {
	query := `UPDATE raw_lead_rows SET canonical_lead_id = $2 WHERE id = $1`

	if _, err := r.db.Querier(ctx).Exec(ctx, query, rowID, canonicalLeadID); err != nil {
		return fmt.Errorf("failed to link raw row to canonical lead: %w", err)
	}
	return nil
}

const rawRowSelect = `
	SELECT id, tenant_id, batch_id, row_number, raw_data, is_valid,
	       validation_errors, is_duplicate, duplicate_of, canonical_lead_id,
	       created_at
	FROM raw_lead_rows`

func (r *rawRowRepository) queryRows(ctx context.Context, query string, args ...any) ([]*models.RawRow, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw rows: %w", err)
	}
	defer rows.Close()

	var out []*models.RawRow
	for rows.Next() {
		row, err := scanRawRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanRawRow(row pgx.Row) (*models.RawRow, error) {
	var rr models.RawRow
	var rawData, validationErrors []byte

	err := row.Scan(
		&rr.ID,
		&rr.TenantID,
		&rr.BatchID,
		&rr.RowNumber,
		&rawData,
		&rr.IsValid,
		&validationErrors,
		&rr.IsDuplicate,
		&rr.DuplicateOf,
		&rr.CanonicalLeadID,
		&rr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan raw row: %w", err)
	}

	if err := unmarshalJSONB(rawData, &rr.RawData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw_data: %w", err)
	}
	if err := unmarshalJSONB(validationErrors, &rr.ValidationErrors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validation_errors: %w", err)
	}
	return &rr, nil
}
