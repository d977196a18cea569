package models

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingTaskStatus is the queue state of one embedding work item.
type EmbeddingTaskStatus string

const (
	EmbeddingTaskPending    EmbeddingTaskStatus = "pending"
	EmbeddingTaskProcessing EmbeddingTaskStatus = "processing"
	EmbeddingTaskCompleted  EmbeddingTaskStatus = "completed"
	EmbeddingTaskFailed     EmbeddingTaskStatus = "failed"
)

// Tables an embedding task may target.
const (
	EmbedTargetCanonicalLeads = "canonical_leads"
	EmbedTargetCrmLeads       = "crm_leads"
)

// EmbeddingTask is one row of the persistent embedding work queue.
// Unique on (table_name, record_id); re-enqueueing a pending task is a
// no-op, re-enqueueing a completed one resets it to pending.
type EmbeddingTask struct {
	ID          uuid.UUID           `json:"id"`
	TenantID    uuid.UUID           `json:"tenant_id"`
	TableName   string              `json:"table_name"`
	RecordID    uuid.UUID           `json:"record_id"`
	TextToEmbed string              `json:"text_to_embed"`
	Status      EmbeddingTaskStatus `json:"status"`
	Attempts    int                 `json:"attempts"`
	LastError   *string             `json:"last_error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
