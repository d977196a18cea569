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

// LineageRepository provides access to the append-only lineage log.
type LineageRepository interface {
	Create(ctx context.Context, entry *models.LineageEntry) error
	ListByTarget(ctx context.Context, targetTable string, targetID uuid.UUID) ([]*models.LineageEntry, error)
	ListBySource(ctx context.Context, sourceTable string, sourceID uuid.UUID) ([]*models.LineageEntry, error)
}

type lineageRepository struct {
	db *database.DB
}

// NewLineageRepository creates a new LineageRepository.
func NewLineageRepository(db *database.DB) LineageRepository {
	return &lineageRepository{db: db}
}

var _ LineageRepository = (*lineageRepository)(nil)

func (r *lineageRepository) Create(ctx context.Context, entry *models.LineageEntry) error {
	query := `
		INSERT INTO data_lineage (
			tenant_id, source_table, source_id, target_table, target_id,
			operation, transformation_type, performed_by, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, created_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		entry.TenantID,
		entry.SourceTable,
		entry.SourceID,
		entry.TargetTable,
		entry.TargetID,
		entry.Operation,
		entry.TransformationType,
		entry.PerformedBy,
		jsonbValue(entry.Details),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lineage entry: %w", err)
	}
	return nil
}

func (r *lineageRepository) ListByTarget(ctx context.Context, targetTable string, targetID uuid.UUID) ([]*models.LineageEntry, error) {
	query := lineageSelect + ` WHERE target_table = $1 AND target_id = $2 ORDER BY created_at`
	return r.queryEntries(ctx, query, targetTable, targetID)
}

func (r *lineageRepository) ListBySource(ctx context.Context, sourceTable string, sourceID uuid.UUID) ([]*models.LineageEntry, error) {
	query := lineageSelect + ` WHERE source_table = $1 AND source_id = $2 ORDER BY created_at`
	return r.queryEntries(ctx, query, sourceTable, sourceID)
}

const lineageSelect = `
	SELECT id, tenant_id, source_table, source_id, target_table, target_id,
	       operation, transformation_type, performed_by, details, created_at
	FROM data_lineage`

func (r *lineageRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*models.LineageEntry, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lineage: %w", err)
	}
	defer rows.Close()

	var entries []*models.LineageEntry
	for rows.Next() {
		entry, err := scanLineageEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanLineageEntry(row pgx.Row) (*models.LineageEntry, error) {
	var entry models.LineageEntry
	var details []byte

	err := row.Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.SourceTable,
		&entry.SourceID,
		&entry.TargetTable,
		&entry.TargetID,
		&entry.Operation,
		&entry.TransformationType,
		&entry.PerformedBy,
		&details,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan lineage entry: %w", err)
	}

	if err := unmarshalJSONB(details, &entry.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lineage details: %w", err)
	}
	return &entry, nil
}
