package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/models"
)

func ingestMux(stager *mockStagerService, batches *mockBatchRepository) *http.ServeMux {
	mux := http.NewServeMux()
	NewIngestHandler(stager, batches, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func stageRequest(t *testing.T, tenantID uuid.UUID, body StageCSVRequest) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/csv", bytes.NewReader(raw))
	req.Header.Set(TenantHeader, tenantID.String())
	return req
}

func TestStageCSV(t *testing.T) {
	tenantID := uuid.New()
	stager := &mockStagerService{}
	mux := ingestMux(stager, &mockBatchRepository{})

	csvData := []byte("Email\njane@example.com\n")
	req := stageRequest(t, tenantID, StageCSVRequest{
		Source:        "zillow",
		Filename:      "leads.csv",
		ContentBase64: base64.StdEncoding.EncodeToString(csvData),
	})
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "zillow", stager.gotSource)
	assert.Equal(t, "leads.csv", stager.gotFilename)
	assert.Equal(t, csvData, stager.gotData)

	var resp StageCSVResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Deduplicated)
	assert.Equal(t, models.BatchStatusPending, resp.Status)
}

func TestStageCSV_DuplicateFile(t *testing.T) {
	tenantID := uuid.New()
	prior := &models.Batch{ID: uuid.New(), TenantID: tenantID, Status: models.BatchStatusCompleted}
	stager := &mockStagerService{batch: prior, err: apperrors.ErrConflict}
	mux := ingestMux(stager, &mockBatchRepository{})

	req := stageRequest(t, tenantID, StageCSVRequest{
		Source:        "zillow",
		Filename:      "leads.csv",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("Email\n")),
	})
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp StageCSVResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Deduplicated)
	assert.Equal(t, prior.ID, resp.BatchID)
}

func TestStageCSV_UnknownSource(t *testing.T) {
	mux := ingestMux(&mockStagerService{err: apperrors.ErrUnknownLeadSource}, &mockBatchRepository{})

	req := stageRequest(t, uuid.New(), StageCSVRequest{
		Source:        "nope",
		Filename:      "leads.csv",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("Email\n")),
	})
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStageCSV_BadBase64(t *testing.T) {
	mux := ingestMux(&mockStagerService{}, &mockBatchRepository{})

	req := stageRequest(t, uuid.New(), StageCSVRequest{
		Source:        "zillow",
		Filename:      "leads.csv",
		ContentBase64: "!!not base64!!",
	})
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStageCSV_MissingFields(t *testing.T) {
	mux := ingestMux(&mockStagerService{}, &mockBatchRepository{})

	req := stageRequest(t, uuid.New(), StageCSVRequest{Source: "zillow"})
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBatch(t *testing.T) {
	tenantID := uuid.New()
	batch := &models.Batch{ID: uuid.New(), TenantID: tenantID, Status: models.BatchStatusParsed}
	mux := ingestMux(&mockStagerService{}, &mockBatchRepository{batch: batch})

	req := httptest.NewRequest(http.MethodGet, "/api/batches/"+batch.ID.String(), nil)
	req.Header.Set(TenantHeader, tenantID.String())
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got models.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, batch.ID, got.ID)
}

func TestGetBatch_NotFound(t *testing.T) {
	mux := ingestMux(&mockStagerService{}, &mockBatchRepository{err: apperrors.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/batches/"+uuid.NewString(), nil)
	req.Header.Set(TenantHeader, uuid.NewString())
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBatches(t *testing.T) {
	tenantID := uuid.New()
	repo := &mockBatchRepository{batches: []*models.Batch{
		{ID: uuid.New(), TenantID: tenantID},
		{ID: uuid.New(), TenantID: tenantID},
	}}
	mux := ingestMux(&mockStagerService{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/batches", nil)
	req.Header.Set(TenantHeader, tenantID.String())
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string][]models.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp["batches"], 2)
}
