package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/services"
)

// ReviewRequest is the optional body of an approve or reject call.
type ReviewRequest struct {
	ReviewedBy *uuid.UUID `json:"reviewed_by,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

// CandidateHandler exposes the match review queue.
type CandidateHandler struct {
	review services.ReviewService
	logger *zap.Logger
}

// NewCandidateHandler creates a new CandidateHandler.
func NewCandidateHandler(review services.ReviewService, logger *zap.Logger) *CandidateHandler {
	return &CandidateHandler{review: review, logger: logger}
}

// RegisterRoutes registers the candidate handler's routes on the given mux.
func (h *CandidateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/candidates", h.ListPending)
	mux.HandleFunc("POST /api/candidates/{id}/approve", h.Approve)
	mux.HandleFunc("POST /api/candidates/{id}/reject", h.Reject)
}

// ListPending handles GET /api/candidates.
func (h *CandidateHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	cands, err := h.review.ListPending(r.Context(), tenantID, 100)
	if err != nil {
		h.logger.Error("list candidates failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to list candidates")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

// Approve handles POST /api/candidates/{id}/approve.
func (h *CandidateHandler) Approve(w http.ResponseWriter, r *http.Request) {
	tenantID, candID, req, ok := h.reviewArgs(w, r)
	if !ok {
		return
	}

	match, err := h.review.Approve(r.Context(), tenantID, candID, req.ReviewedBy, req.Notes)
	if err != nil {
		h.writeReviewError(w, err, "approve")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"match": match})
}

// Reject handles POST /api/candidates/{id}/reject.
func (h *CandidateHandler) Reject(w http.ResponseWriter, r *http.Request) {
	tenantID, candID, req, ok := h.reviewArgs(w, r)
	if !ok {
		return
	}

	if err := h.review.Reject(r.Context(), tenantID, candID, req.ReviewedBy, req.Notes); err != nil {
		h.writeReviewError(w, err, "reject")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *CandidateHandler) reviewArgs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, ReviewRequest, bool) {
	var req ReviewRequest

	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, req, false
	}
	candID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid candidate id")
		return uuid.Nil, uuid.Nil, req, false
	}
	// Body is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return uuid.Nil, uuid.Nil, req, false
	}
	return tenantID, candID, req, true
}

func (h *CandidateHandler) writeReviewError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "candidate not found")
	case errors.Is(err, apperrors.ErrNotPending):
		_ = ErrorResponse(w, http.StatusConflict, "not_pending", "candidate was already decided")
	case errors.Is(err, apperrors.ErrConflict):
		_ = ErrorResponse(w, http.StatusConflict, "already_matched", "lead already has an active match")
	default:
		h.logger.Error("candidate "+op+" failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to "+op+" candidate")
	}
}
