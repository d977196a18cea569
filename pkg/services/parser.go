package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/normalize"
	"github.com/attriq/lead-engine/pkg/repositories"
	"github.com/attriq/lead-engine/pkg/storage"
)

// DefaultEmailRegex validates resolved email values when a source does not
// configure its own pattern.
const DefaultEmailRegex = `^[^@\s]+@[^@\s]+\.[^@\s]+$`

// ParserService turns staged CSV files into raw rows.
type ParserService interface {
	// Run claims pending batches and parses them. Returns the number of
	// batches processed.
	Run(ctx context.Context, limit int) (int, error)

	ParseBatch(ctx context.Context, batch *models.Batch) error
}

type parserService struct {
	db      *database.DB
	sources repositories.LeadSourceRepository
	batches repositories.BatchRepository
	rawRows repositories.RawRowRepository
	blobs   storage.BlobStore
	logger  *zap.Logger
}

// NewParserService creates a new ParserService.
func NewParserService(
	db *database.DB,
	sources repositories.LeadSourceRepository,
	batches repositories.BatchRepository,
	rawRows repositories.RawRowRepository,
	blobs storage.BlobStore,
	logger *zap.Logger,
) ParserService {
	return &parserService{
		db:      db,
		sources: sources,
		batches: batches,
		rawRows: rawRows,
		blobs:   blobs,
		logger:  logger.Named("parser"),
	}
}

var _ ParserService = (*parserService)(nil)

func (s *parserService) Run(ctx context.Context, limit int) (int, error) {
	var claimed []*models.Batch
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = s.batches.ClaimPending(ctx, models.BatchStatusPending, models.BatchStatusProcessing, limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim batches: %w", err)
	}

	processed := 0
	for _, batch := range claimed {
		if err := s.ParseBatch(ctx, batch); err != nil {
			s.logger.Error("parse batch failed",
				zap.String("batch_id", batch.ID.String()),
				zap.Error(err))
			if sErr := s.batches.UpdateStatus(ctx, batch.ID, models.BatchStatusFailed); sErr != nil {
				s.logger.Error("mark batch failed", zap.Error(sErr))
			}
			_ = s.batches.AppendError(ctx, batch.ID, err.Error())
			_ = s.batches.AppendLog(ctx, batch.ID, models.BatchLogEntry{
				Event:   models.BatchEventFailed,
				Details: map[string]any{"error": err.Error()},
			})
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *parserService) ParseBatch(ctx context.Context, batch *models.Batch) error {
	source, err := s.sources.GetByID(ctx, batch.TenantID, batch.LeadSourceID)
	if err != nil {
		return fmt.Errorf("resolve lead source: %w", err)
	}

	data, err := s.blobs.Get(ctx, batch.FileRef)
	if err != nil {
		return fmt.Errorf("fetch file: %w", err)
	}

	rows, parseErrors, err := s.parseFile(batch, source, data)
	if err != nil {
		return err
	}

	countRows(batch, rows, parseErrors)

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.rawRows.BulkInsert(ctx, rows); err != nil {
			return err
		}
		// In-batch duplicates point at the surviving row, which only has
		// an id after insert.
		for _, row := range rows {
			if row.IsDuplicate && row.DuplicateOf != nil {
				if err := s.rawRows.MarkDuplicate(ctx, row.ID, *row.DuplicateOf); err != nil {
					return err
				}
			}
		}
		if err := s.batches.UpdateCounts(ctx, batch); err != nil {
			return err
		}
		for _, msg := range parseErrors {
			if err := s.batches.AppendError(ctx, batch.ID, msg); err != nil {
				return err
			}
		}
		if err := s.batches.AppendLog(ctx, batch.ID, models.BatchLogEntry{
			Event: models.BatchEventParsed,
			Details: map[string]any{
				"total_rows": batch.TotalRows,
				"valid_rows": batch.ValidRows,
				"error_rows": batch.ErrorRows,
			},
		}); err != nil {
			return err
		}
		return s.batches.UpdateStatus(ctx, batch.ID, models.BatchStatusParsed)
	})
	if err != nil {
		return fmt.Errorf("persist parsed rows: %w", err)
	}

	s.logger.Info("parsed batch",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("total", batch.TotalRows),
		zap.Int("valid", batch.ValidRows),
		zap.Int("duplicates", batch.DuplicateRows),
		zap.Int("errors", batch.ErrorRows))
	return nil
}

// countRows derives the batch counters from a parse pass. Error rows are
// lines the reader could not produce a record for; rows that parsed but
// failed validation still count as parsed, and duplicates count as valid.
func countRows(batch *models.Batch, rows []*models.RawRow, parseErrors []string) {
	batch.TotalRows = len(rows) + len(parseErrors)
	batch.ParsedRows = len(rows)
	batch.ErrorRows = len(parseErrors)
	batch.ValidRows = 0
	batch.DuplicateRows = 0
	for _, row := range rows {
		if row.IsValid {
			batch.ValidRows++
		}
		if row.IsDuplicate {
			batch.DuplicateRows++
		}
	}
}

// parseFile reads the CSV into raw rows, validating and flagging in-batch
// duplicates. The second return value collects per-line read errors.
func (s *parserService) parseFile(batch *models.Batch, source *models.LeadSource, data []byte) ([]*models.RawRow, []string, error) {
	cfg := source.CSVConfig

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if d := cfg.Delimiter; d != "" {
		reader.Comma = rune(d[0])
	}

	for i := 0; i < cfg.SkipRows; i++ {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, fmt.Errorf("file shorter than skip_rows")
			}
			return nil, nil, fmt.Errorf("skip preamble: %w", err)
		}
	}

	var header []string
	if cfg.HasHeader {
		record, err := reader.Read()
		if err != nil {
			return nil, nil, fmt.Errorf("read header: %w", err)
		}
		header = make([]string, len(record))
		for i, col := range record {
			header[i] = strings.TrimSpace(col)
		}
	}

	emailRe := compileEmailRegex(source.ValidationRules.EmailRegex)
	validator := rowValidator{
		mapping:  source.FieldMapping,
		required: source.ValidationRules.RequiredFields,
		emailRe:  emailRe,
	}

	var rows []*models.RawRow
	var parseErrors []string
	seen := make(map[string]*models.RawRow)
	rowNumber := cfg.SkipRows
	if cfg.HasHeader {
		rowNumber++
	}

	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			rowNumber++
			parseErrors = append(parseErrors, fmt.Sprintf("row %d: %v", rowNumber, err))
			continue
		}
		rowNumber++

		rawData := make(map[string]string, len(record))
		for i, value := range record {
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && header[i] != "" {
				name = header[i]
			}
			rawData[name] = value
		}

		row := &models.RawRow{
			TenantID:  batch.TenantID,
			BatchID:   batch.ID,
			RowNumber: rowNumber,
			RawData:   rawData,
			IsValid:   true,
		}
		row.ValidationErrors = validator.validate(rawData)
		row.IsValid = len(row.ValidationErrors) == 0

		if row.IsValid {
			if key := dedupKey(source.FieldMapping, rawData); key != "" {
				if first, ok := seen[key]; ok {
					row.IsDuplicate = true
					// Resolved to the real id after insert.
					row.DuplicateOf = &first.ID
				} else {
					seen[key] = row
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, parseErrors, nil
}

func compileEmailRegex(pattern string) *regexp.Regexp {
	if pattern != "" {
		if re, err := regexp.Compile(pattern); err == nil {
			return re
		}
	}
	return regexp.MustCompile(DefaultEmailRegex)
}

type rowValidator struct {
	mapping  models.FieldMapping
	required []string
	emailRe  *regexp.Regexp
}

func (v rowValidator) validate(rawData map[string]string) []string {
	var errs []string
	for _, field := range v.required {
		if resolveField(v.mapping, rawData, field) == "" {
			errs = append(errs, fmt.Sprintf("missing required field %s", field))
		}
	}
	if email := resolveField(v.mapping, rawData, models.FieldEmail); email != "" {
		if !v.emailRe.MatchString(strings.TrimSpace(email)) {
			errs = append(errs, fmt.Sprintf("invalid email %q", email))
		}
	}
	return errs
}

// resolveField returns the first non-empty candidate column for a canonical
// field, per the source's mapping.
func resolveField(mapping models.FieldMapping, rawData map[string]string, field string) string {
	for _, column := range mapping[field] {
		if value := strings.TrimSpace(rawData[column]); value != "" {
			return value
		}
	}
	return ""
}

// dedupKey identifies a row within its batch by normalized email and phone.
// Rows with neither are never considered duplicates of each other.
func dedupKey(mapping models.FieldMapping, rawData map[string]string) string {
	email := normalize.Email(resolveField(mapping, rawData, models.FieldEmail))
	phone := normalize.PhoneMatchKey(resolveField(mapping, rawData, models.FieldPhone))
	if email == "" && phone == "" {
		return ""
	}
	return email + "|" + phone
}
