package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks a received CSV through the pipeline. Status only
// advances forward.
type BatchStatus string

const (
	BatchStatusPending      BatchStatus = "pending"
	BatchStatusProcessing   BatchStatus = "processing"
	BatchStatusParsed       BatchStatus = "parsed"
	BatchStatusTransforming BatchStatus = "transforming"
	BatchStatusCompleted    BatchStatus = "completed"
	BatchStatusFailed       BatchStatus = "failed"
	BatchStatusPartial      BatchStatus = "partial"
)

// ValidBatchStatuses contains all valid batch status values.
var ValidBatchStatuses = []BatchStatus{
	BatchStatusPending,
	BatchStatusProcessing,
	BatchStatusParsed,
	BatchStatusTransforming,
	BatchStatusCompleted,
	BatchStatusFailed,
	BatchStatusPartial,
}

// IsValidBatchStatus checks if the given status is valid.
func IsValidBatchStatus(s BatchStatus) bool {
	for _, v := range ValidBatchStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Batch log event types.
const (
	BatchEventEmailReceived = "email_received"
	BatchEventAPIUpload     = "api_upload"
	BatchEventParsed        = "parsed"
	BatchEventTransformed   = "transformed"
	BatchEventFailed        = "failed"
)

// BatchLogEntry is one structured event appended to a batch's log.
type BatchLogEntry struct {
	Event   string         `json:"event"`
	At      time.Time      `json:"at"`
	Details map[string]any `json:"details,omitempty"`
}

// Batch is one received CSV file and its processing state.
type Batch struct {
	ID           uuid.UUID   `json:"id"`
	TenantID     uuid.UUID   `json:"tenant_id"`
	LeadSourceID uuid.UUID   `json:"lead_source_id"`
	Filename     string      `json:"filename"`
	FileRef      string      `json:"file_ref"`
	FileHash     string      `json:"file_hash"`
	ReceivedAt   time.Time   `json:"received_at"`
	Status       BatchStatus `json:"status"`

	TotalRows     int `json:"total_rows"`
	ParsedRows    int `json:"parsed_rows"`
	ValidRows     int `json:"valid_rows"`
	DuplicateRows int `json:"duplicate_rows"`
	ErrorRows     int `json:"error_rows"`

	Log    []BatchLogEntry `json:"log"`
	Errors []string        `json:"errors"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RawRow is one CSV row as staged, immutable except for the duplicate and
// canonical back-pointers written by the transformer.
type RawRow struct {
	ID               uuid.UUID         `json:"id"`
	TenantID         uuid.UUID         `json:"tenant_id"`
	BatchID          uuid.UUID         `json:"batch_id"`
	RowNumber        int               `json:"row_number"` // 1-based in the original file
	RawData          map[string]string `json:"raw_data"`
	IsValid          bool              `json:"is_valid"`
	ValidationErrors []string          `json:"validation_errors,omitempty"`
	IsDuplicate      bool              `json:"is_duplicate"`
	DuplicateOf      *uuid.UUID        `json:"duplicate_of,omitempty"`
	CanonicalLeadID  *uuid.UUID        `json:"canonical_lead_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}
