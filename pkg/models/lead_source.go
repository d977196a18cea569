package models

import (
	"time"

	"github.com/google/uuid"
)

// Canonical field names every source's field mapping resolves into.
const (
	FieldFirstName      = "first_name"
	FieldLastName       = "last_name"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldAddress        = "address"
	FieldCity           = "city"
	FieldState          = "state"
	FieldZip            = "zip"
	FieldLeadType       = "lead_type"
	FieldSourceRecordID = "source_record_id"
	FieldSourceCreated  = "source_created_at"
)

// CanonicalFields lists every mappable target field in the order the
// transformer resolves them.
var CanonicalFields = []string{
	FieldFirstName,
	FieldLastName,
	FieldEmail,
	FieldPhone,
	FieldAddress,
	FieldCity,
	FieldState,
	FieldZip,
	FieldLeadType,
	FieldSourceRecordID,
	FieldSourceCreated,
}

// CSVConfig describes how a source's CSV files are parsed.
type CSVConfig struct {
	Delimiter  string `json:"delimiter"`
	HasHeader  bool   `json:"has_header"`
	DateFormat string `json:"date_format"`
	SkipRows   int    `json:"skip_rows"`
}

// FieldMapping maps a canonical target field to an ordered list of candidate
// column names. The first candidate with a non-empty trimmed value wins.
type FieldMapping map[string][]string

// ValidationRules describes per-row validation for a source.
type ValidationRules struct {
	RequiredFields []string `json:"required_fields"`
	EmailRegex     string   `json:"email_regex"`
}

// LeadSource is a configured external feed (Zillow, Realtor.com, OpCity, ...).
type LeadSource struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Slug            string          `json:"slug"`
	DisplayName     string          `json:"display_name"`
	CSVConfig       CSVConfig       `json:"csv_config"`
	FieldMapping    FieldMapping    `json:"field_mapping"`
	ValidationRules ValidationRules `json:"validation_rules"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
