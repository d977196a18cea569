package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/repositories"
	"github.com/attriq/lead-engine/pkg/storage"
)

// StagerService accepts raw CSV files and registers them as batches for
// the parse worker. Staging is the only write path into blob storage.
type StagerService interface {
	// StageCSV stores the file and creates a pending batch. A file whose
	// content hash matches an earlier batch for the tenant is not staged
	// again; the prior batch is returned with apperrors.ErrConflict.
	StageCSV(ctx context.Context, tenantID uuid.UUID, sourceSlug, filename string, data []byte, event string) (*models.Batch, error)
}

type stagerService struct {
	db      *database.DB
	sources repositories.LeadSourceRepository
	batches repositories.BatchRepository
	blobs   storage.BlobStore
	logger  *zap.Logger
}

// NewStagerService creates a new StagerService.
func NewStagerService(
	db *database.DB,
	sources repositories.LeadSourceRepository,
	batches repositories.BatchRepository,
	blobs storage.BlobStore,
	logger *zap.Logger,
) StagerService {
	return &stagerService{
		db:      db,
		sources: sources,
		batches: batches,
		blobs:   blobs,
		logger:  logger.Named("stager"),
	}
}

var _ StagerService = (*stagerService)(nil)

func (s *stagerService) StageCSV(ctx context.Context, tenantID uuid.UUID, sourceSlug, filename string, data []byte, event string) (*models.Batch, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	source, err := s.sources.GetBySlug(ctx, tenantID, sourceSlug)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUnknownLeadSource
		}
		return nil, fmt.Errorf("resolve lead source: %w", err)
	}
	if !source.IsActive {
		return nil, apperrors.ErrUnknownLeadSource
	}

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	if prior, err := s.batches.GetByFileHash(ctx, tenantID, fileHash); err == nil {
		s.logger.Info("duplicate file ignored",
			zap.String("tenant_id", tenantID.String()),
			zap.String("filename", filename),
			zap.String("prior_batch_id", prior.ID.String()))
		return prior, apperrors.ErrConflict
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check file hash: %w", err)
	}

	receivedAt := time.Now()
	fileRef := storage.IngestionKey(receivedAt, filename)
	if err := s.blobs.Put(ctx, fileRef, data); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	batch := &models.Batch{
		TenantID:     tenantID,
		LeadSourceID: source.ID,
		Filename:     filename,
		FileRef:      fileRef,
		FileHash:     fileHash,
		ReceivedAt:   receivedAt,
		Status:       models.BatchStatusPending,
		Log: []models.BatchLogEntry{{
			Event: event,
			At:    receivedAt,
			Details: map[string]any{
				"filename": filename,
				"bytes":    len(data),
			},
		}},
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.logger.Info("staged batch",
		zap.String("batch_id", batch.ID.String()),
		zap.String("source", sourceSlug),
		zap.String("filename", filename),
		zap.Int("bytes", len(data)))
	return batch, nil
}
