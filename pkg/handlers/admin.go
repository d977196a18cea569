package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/services"
)

// AdminHandler exposes manual worker kicks and queue introspection. Every
// run endpoint performs exactly one worker pass and is safe to call
// repeatedly; the underlying claims make concurrent kicks harmless.
type AdminHandler struct {
	parser      services.ParserService
	transformer services.TransformerService
	matcher     services.MatcherService
	embedder    services.EmbedWorkerService
	crmSync     services.CrmSyncService
	review      services.ReviewService

	batchLimit     int
	matchBatchSize int
	embedBatchSize int
	logger         *zap.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	parser services.ParserService,
	transformer services.TransformerService,
	matcher services.MatcherService,
	embedder services.EmbedWorkerService,
	crmSync services.CrmSyncService,
	review services.ReviewService,
	matchBatchSize, embedBatchSize int,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		parser:         parser,
		transformer:    transformer,
		matcher:        matcher,
		embedder:       embedder,
		crmSync:        crmSync,
		review:         review,
		batchLimit:     10,
		matchBatchSize: matchBatchSize,
		embedBatchSize: embedBatchSize,
		logger:         logger,
	}
}

// RegisterRoutes registers the admin handler's routes on the given mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/run/{worker}", h.RunWorker)
	mux.HandleFunc("POST /api/leads/{id}/rescore", h.RescoreLead)
	mux.HandleFunc("GET /api/admin/embeddings/stats", h.EmbeddingStats)
}

// RunWorker handles POST /api/admin/run/{worker}.
func (h *AdminHandler) RunWorker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("worker")

	var processed int
	var err error
	switch name {
	case "parser":
		processed, err = h.parser.Run(r.Context(), h.batchLimit)
	case "transformer":
		processed, err = h.transformer.Run(r.Context(), h.batchLimit)
	case "matcher":
		processed, err = h.matcher.Run(r.Context(), h.matchBatchSize)
	case "embeddings":
		processed, err = h.embedder.Run(r.Context(), h.embedBatchSize)
	case "crm-sync":
		err = h.runCrmSync(r.Context())
	case "sweep":
		processed, err = h.review.Sweep(r.Context())
	default:
		_ = ErrorResponse(w, http.StatusNotFound, "unknown_worker", "no such worker")
		return
	}
	if err != nil {
		h.logger.Error("manual worker run failed",
			zap.String("worker", name),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "worker run failed")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"worker":    name,
		"processed": processed,
	})
}

// RescoreLead handles POST /api/leads/{id}/rescore. Re-running the matcher
// for a lead is idempotent: a lead already holding an active match is
// untouched, one in review has its candidates refreshed.
func (h *AdminHandler) RescoreLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	leadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid lead id")
		return
	}

	if err := h.matcher.Rescore(r.Context(), tenantID, leadID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "lead not found")
			return
		}
		h.logger.Error("rescore failed",
			zap.String("lead_id", leadID.String()),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "rescore failed")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "rescored"})
}

func (h *AdminHandler) runCrmSync(ctx context.Context) error {
	return h.crmSync.Run(ctx)
}

// EmbeddingStats handles GET /api/admin/embeddings/stats.
func (h *AdminHandler) EmbeddingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.embedder.Stats(r.Context())
	if err != nil {
		h.logger.Error("embedding stats failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to read stats")
		return
	}
	_ = WriteJSON(w, http.StatusOK, stats)
}
