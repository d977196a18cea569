package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/metrics"
	"github.com/attriq/lead-engine/pkg/models"
	"github.com/attriq/lead-engine/pkg/repositories"
	"github.com/attriq/lead-engine/pkg/services"
)

// StageCSVRequest is the body of POST /api/ingest/csv.
type StageCSVRequest struct {
	Source        string `json:"source"`
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

// StageCSVResponse echoes the created (or previously created) batch.
type StageCSVResponse struct {
	BatchID      uuid.UUID          `json:"batch_id"`
	Status       models.BatchStatus `json:"status"`
	Deduplicated bool               `json:"deduplicated"`
}

// IngestHandler accepts CSV uploads and exposes batch status.
type IngestHandler struct {
	stager  services.StagerService
	batches repositories.BatchRepository
	logger  *zap.Logger
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(stager services.StagerService, batches repositories.BatchRepository, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{stager: stager, batches: batches, logger: logger}
}

// RegisterRoutes registers the ingest handler's routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest/csv", h.StageCSV)
	mux.HandleFunc("GET /api/batches/{id}", h.GetBatch)
	mux.HandleFunc("GET /api/batches", h.ListBatches)
}

// StageCSV handles POST /api/ingest/csv.
func (h *IngestHandler) StageCSV(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var req StageCSVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Source == "" || req.Filename == "" || req.ContentBase64 == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "source, filename and content_base64 are required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "content_base64 is not valid base64")
		return
	}

	batch, err := h.stager.StageCSV(r.Context(), tenantID, req.Source, req.Filename, data, models.BatchEventAPIUpload)
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		_ = WriteJSON(w, http.StatusOK, StageCSVResponse{
			BatchID:      batch.ID,
			Status:       batch.Status,
			Deduplicated: true,
		})
		return
	case errors.Is(err, apperrors.ErrUnknownLeadSource):
		_ = ErrorResponse(w, http.StatusBadRequest, "unknown_source", "no active lead source with that slug")
		return
	case err != nil:
		h.logger.Error("stage csv failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to stage file")
		return
	}

	metrics.BatchesStaged.Inc()
	_ = WriteJSON(w, http.StatusCreated, StageCSVResponse{
		BatchID: batch.ID,
		Status:  batch.Status,
	})
}

// GetBatch handles GET /api/batches/{id}.
func (h *IngestHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	batchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid batch id")
		return
	}

	batch, err := h.batches.GetByID(r.Context(), tenantID, batchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		h.logger.Error("get batch failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to load batch")
		return
	}
	_ = WriteJSON(w, http.StatusOK, batch)
}

// ListBatches handles GET /api/batches.
func (h *IngestHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	batches, err := h.batches.List(r.Context(), tenantID, 50)
	if err != nil {
		h.logger.Error("list batches failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to list batches")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"batches": batches})
}
