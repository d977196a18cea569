package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/attriq/lead-engine/pkg/models"
)

// mockReviewService is a configurable mock for candidate handler tests.
type mockReviewService struct {
	match      *models.Match
	candidates []*models.MatchCandidate
	expired    int
	err        error

	approvedID uuid.UUID
	rejectedID uuid.UUID
}

func (m *mockReviewService) Approve(ctx context.Context, tenantID, candID uuid.UUID, reviewedBy *uuid.UUID, notes *string) (*models.Match, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.approvedID = candID
	if m.match != nil {
		return m.match, nil
	}
	return &models.Match{ID: uuid.New(), TenantID: tenantID}, nil
}

func (m *mockReviewService) Reject(ctx context.Context, tenantID, candID uuid.UUID, reviewedBy *uuid.UUID, notes *string) error {
	if m.err != nil {
		return m.err
	}
	m.rejectedID = candID
	return nil
}

func (m *mockReviewService) ListPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.MatchCandidate, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.candidates, nil
}

func (m *mockReviewService) Sweep(ctx context.Context) (int, error) {
	return m.expired, m.err
}

// mockMatcherService is a configurable mock for admin handler tests.
type mockMatcherService struct {
	processed int
	err       error

	rescoredID uuid.UUID
}

func (m *mockMatcherService) Run(ctx context.Context, limit int) (int, error) {
	return m.processed, m.err
}

func (m *mockMatcherService) MatchLead(ctx context.Context, lead *models.CanonicalLead) error {
	return m.err
}

func (m *mockMatcherService) Rescore(ctx context.Context, tenantID, leadID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.rescoredID = leadID
	return nil
}

// mockStagerService is a configurable mock for ingest handler tests.
type mockStagerService struct {
	batch *models.Batch
	err   error

	gotSource   string
	gotFilename string
	gotData     []byte
}

func (m *mockStagerService) StageCSV(ctx context.Context, tenantID uuid.UUID, sourceSlug, filename string, data []byte, event string) (*models.Batch, error) {
	m.gotSource = sourceSlug
	m.gotFilename = filename
	m.gotData = data
	if m.batch == nil && m.err == nil {
		return &models.Batch{ID: uuid.New(), TenantID: tenantID, Status: models.BatchStatusPending}, nil
	}
	return m.batch, m.err
}

// mockBatchRepository implements repositories.BatchRepository for handler
// tests; only the read paths the handlers use are configurable.
type mockBatchRepository struct {
	batch   *models.Batch
	batches []*models.Batch
	err     error
}

func (m *mockBatchRepository) Create(ctx context.Context, batch *models.Batch) error { return m.err }

func (m *mockBatchRepository) GetByID(ctx context.Context, tenantID, batchID uuid.UUID) (*models.Batch, error) {
	return m.batch, m.err
}

func (m *mockBatchRepository) GetByFileHash(ctx context.Context, tenantID uuid.UUID, fileHash string) (*models.Batch, error) {
	return m.batch, m.err
}

func (m *mockBatchRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.Batch, error) {
	return m.batches, m.err
}

func (m *mockBatchRepository) ClaimPending(ctx context.Context, fromStatus, toStatus models.BatchStatus, limit int) ([]*models.Batch, error) {
	return nil, m.err
}

func (m *mockBatchRepository) UpdateStatus(ctx context.Context, batchID uuid.UUID, status models.BatchStatus) error {
	return m.err
}

func (m *mockBatchRepository) UpdateCounts(ctx context.Context, batch *models.Batch) error {
	return m.err
}

func (m *mockBatchRepository) AppendLog(ctx context.Context, batchID uuid.UUID, entry models.BatchLogEntry) error {
	return m.err
}

func (m *mockBatchRepository) AppendError(ctx context.Context, batchID uuid.UUID, message string) error {
	return m.err
}
