package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/normalize"
	"github.com/attriq/lead-engine/pkg/repositories"
)

// Fallback layouts tried when the source's configured date format does not
// parse a source_created_at value.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
}

// TransformerService promotes valid raw rows into canonical leads.
type TransformerService interface {
	// Run claims parsed batches and transforms them. Returns the number of
	// batches processed.
	Run(ctx context.Context, limit int) (int, error)

	TransformBatch(ctx context.Context, batch *models.Batch) error
}

type transformerService struct {
	db       *database.DB
	sources  repositories.LeadSourceRepository
	batches  repositories.BatchRepository
	rawRows  repositories.RawRowRepository
	leads    repositories.CanonicalLeadRepository
	lineage  repositories.LineageRepository
	embedder repositories.EmbeddingTaskRepository
	logger   *zap.Logger
}

// NewTransformerService creates a new TransformerService.
func NewTransformerService(
	db *database.DB,
	sources repositories.LeadSourceRepository,
	batches repositories.BatchRepository,
	rawRows repositories.RawRowRepository,
	leads repositories.CanonicalLeadRepository,
	lineage repositories.LineageRepository,
	embedder repositories.EmbeddingTaskRepository,
	logger *zap.Logger,
) TransformerService {
	return &transformerService{
		db:       db,
		sources:  sources,
		batches:  batches,
		rawRows:  rawRows,
		leads:    leads,
		lineage:  lineage,
		embedder: embedder,
		logger:   logger.Named("transformer"),
	}
}

var _ TransformerService = (*transformerService)(nil)

func (s *transformerService) Run(ctx context.Context, limit int) (int, error) {
	var claimed []*models.Batch
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = s.batches.ClaimPending(ctx, models.BatchStatusParsed, models.BatchStatusTransforming, limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim batches: %w", err)
	}

	processed := 0
	for _, batch := range claimed {
		if err := s.TransformBatch(ctx, batch); err != nil {
			s.logger.Error("transform batch failed",
				zap.String("batch_id", batch.ID.String()),
				zap.Error(err))
			if sErr := s.batches.UpdateStatus(ctx, batch.ID, models.BatchStatusFailed); sErr != nil {
				s.logger.Error("mark batch failed", zap.Error(sErr))
			}
			_ = s.batches.AppendError(ctx, batch.ID, err.Error())
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *transformerService) TransformBatch(ctx context.Context, batch *models.Batch) error {
	source, err := s.sources.GetByID(ctx, batch.TenantID, batch.LeadSourceID)
	if err != nil {
		return fmt.Errorf("resolve lead source: %w", err)
	}

	rows, err := s.rawRows.ListValidUnprocessed(ctx, batch.TenantID, batch.ID)
	if err != nil {
		return fmt.Errorf("list rows: %w", err)
	}

	created, duplicates, failed := 0, 0, 0
	for _, row := range rows {
		// Each row commits independently so a mid-batch failure leaves
		// completed rows linked and re-runs pick up the remainder.
		err := s.db.WithTx(ctx, func(ctx context.Context) error {
			return s.transformRow(ctx, source, batch, row)
		})
		switch {
		case err == nil:
			if row.IsDuplicate {
				duplicates++
			} else {
				created++
			}
		default:
			failed++
			s.logger.Warn("transform row failed",
				zap.String("batch_id", batch.ID.String()),
				zap.Int("row", row.RowNumber),
				zap.Error(err))
			_ = s.batches.AppendError(ctx, batch.ID, fmt.Sprintf("row %d: %v", row.RowNumber, err))
		}
	}

	// Cross-batch duplicates are still valid rows; they only add to the
	// duplicate tally.
	batch.DuplicateRows += duplicates
	status := models.BatchStatusCompleted
	if failed > 0 {
		status = models.BatchStatusPartial
	}

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.batches.UpdateCounts(ctx, batch); err != nil {
			return err
		}
		if err := s.batches.AppendLog(ctx, batch.ID, models.BatchLogEntry{
			Event: models.BatchEventTransformed,
			Details: map[string]any{
				"created":    created,
				"duplicates": duplicates,
				"failed":     failed,
			},
		}); err != nil {
			return err
		}
		return s.batches.UpdateStatus(ctx, batch.ID, status)
	})
	if err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}

	s.logger.Info("transformed batch",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("created", created),
		zap.Int("duplicates", duplicates),
		zap.Int("failed", failed))
	return nil
}

func (s *transformerService) transformRow(ctx context.Context, source *models.LeadSource, batch *models.Batch, row *models.RawRow) error {
	lead := s.buildLead(source, batch, row)

	// Cross-batch dedup: a row describing a lead we already hold updates
	// nothing, it just links back to the survivor.
	if prior := s.findExisting(ctx, source, lead); prior != nil {
		row.IsDuplicate = true
		if err := s.rawRows.MarkDuplicate(ctx, row.ID, prior.ID); err != nil {
			return err
		}
		return s.rawRows.SetCanonicalLead(ctx, row.ID, prior.ID)
	}

	if err := s.leads.Create(ctx, lead); err != nil {
		return err
	}
	if err := s.rawRows.SetCanonicalLead(ctx, row.ID, lead.ID); err != nil {
		return err
	}
	if err := s.lineage.Create(ctx, &models.LineageEntry{
		TenantID:           batch.TenantID,
		SourceTable:        "raw_lead_rows",
		SourceID:           row.ID,
		TargetTable:        models.EmbedTargetCanonicalLeads,
		TargetID:           lead.ID,
		Operation:          models.LineageOpCreate,
		TransformationType: models.TransformationNormalize,
		PerformedBy:        "transformer",
		Details: map[string]any{
			"batch_id":   batch.ID.String(),
			"row_number": row.RowNumber,
		},
	}); err != nil {
		return err
	}
	return s.embedder.Enqueue(ctx, &models.EmbeddingTask{
		TenantID:    batch.TenantID,
		TableName:   models.EmbedTargetCanonicalLeads,
		RecordID:    lead.ID,
		TextToEmbed: lead.EmbedText(),
	})
}

func (s *transformerService) buildLead(source *models.LeadSource, batch *models.Batch, row *models.RawRow) *models.CanonicalLead {
	get := func(field string) string {
		return resolveField(source.FieldMapping, row.RawData, field)
	}

	lead := &models.CanonicalLead{
		TenantID:       batch.TenantID,
		LeadSourceID:   source.ID,
		FirstName:      get(models.FieldFirstName),
		LastName:       get(models.FieldLastName),
		Email:          strings.TrimSpace(get(models.FieldEmail)),
		Phone:          get(models.FieldPhone),
		Address:        get(models.FieldAddress),
		City:           get(models.FieldCity),
		State:          get(models.FieldState),
		Zip:            get(models.FieldZip),
		LeadType:       get(models.FieldLeadType),
		SourceRecordID: get(models.FieldSourceRecordID),
		MatchStatus:    models.LeadMatchPending,
		RawData:        row.RawData,
	}
	lead.EmailNormalized = normalize.Email(lead.Email)
	lead.PhoneNormalized = normalize.PhoneMatchKey(lead.Phone)
	lead.AddressNormalized = normalize.Address(lead.Address)

	if raw := get(models.FieldSourceCreated); raw != "" {
		if t, ok := parseSourceDate(raw, source.CSVConfig.DateFormat); ok {
			lead.SourceCreatedAt = &t
		}
	}
	return lead
}

func (s *transformerService) findExisting(ctx context.Context, source *models.LeadSource, lead *models.CanonicalLead) *models.CanonicalLead {
	if lead.SourceRecordID != "" {
		if prior, err := s.leads.FindBySourceRecordID(ctx, lead.TenantID, source.ID, lead.SourceRecordID); err == nil {
			return prior
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("source record lookup failed", zap.Error(err))
		}
	}
	if prior, err := s.leads.FindByIdentity(ctx, lead.TenantID, source.ID, lead.EmailNormalized, lead.PhoneNormalized); err == nil {
		return prior
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("identity lookup failed", zap.Error(err))
	}
	return nil
}

// parseSourceDate tries the source's configured layout first, then common
// layouts. Unparseable dates leave source_created_at empty rather than
// failing the row.
func parseSourceDate(raw, configured string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	layouts := dateLayouts
	if configured != "" {
		layouts = append([]string{configured}, dateLayouts...)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
