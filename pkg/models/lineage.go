package models

import (
	"time"

	"github.com/google/uuid"
)

// LineageOperation classifies a lineage entry.
type LineageOperation string

const (
	LineageOpCreate LineageOperation = "create"
	LineageOpUpdate LineageOperation = "update"
	LineageOpMerge  LineageOperation = "merge"
	LineageOpSplit  LineageOperation = "split"
	LineageOpDerive LineageOperation = "derive"
)

// Transformation types recorded on lineage entries.
const (
	TransformationNormalize = "normalize"
	TransformationMatch     = "match"
	TransformationSync      = "sync"
)

// LineageEntry is one append-only audit record describing a
// (source_table, source_id) -> (target_table, target_id) transformation.
type LineageEntry struct {
	ID                 uuid.UUID        `json:"id"`
	TenantID           uuid.UUID        `json:"tenant_id"`
	SourceTable        string           `json:"source_table"`
	SourceID           uuid.UUID        `json:"source_id"`
	TargetTable        string           `json:"target_table"`
	TargetID           uuid.UUID        `json:"target_id"`
	Operation          LineageOperation `json:"operation"`
	TransformationType string           `json:"transformation_type"`
	PerformedBy        string           `json:"performed_by"`
	Details            map[string]any   `json:"details,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}
