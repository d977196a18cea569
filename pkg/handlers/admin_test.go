package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/repositories"
)

type mockEmbedWorker struct {
	processed int
	stats     *repositories.EmbeddingQueueStats
	err       error
}

func (m *mockEmbedWorker) Run(ctx context.Context, batchSize int) (int, error) {
	return m.processed, m.err
}

func (m *mockEmbedWorker) RevertStuck(ctx context.Context) (int, error) { return 0, m.err }

func (m *mockEmbedWorker) Stats(ctx context.Context) (*repositories.EmbeddingQueueStats, error) {
	return m.stats, m.err
}

func adminMux(review *mockReviewService, embedder *mockEmbedWorker) *http.ServeMux {
	mux := http.NewServeMux()
	NewAdminHandler(nil, nil, nil, embedder, nil, review, 100, 50, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestRunWorker_Sweep(t *testing.T) {
	review := &mockReviewService{expired: 3}
	mux := adminMux(review, &mockEmbedWorker{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/run/sweep", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sweep", resp["worker"])
	assert.Equal(t, float64(3), resp["processed"])
}

func TestRunWorker_Embeddings(t *testing.T) {
	mux := adminMux(&mockReviewService{}, &mockEmbedWorker{processed: 12})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/run/embeddings", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(12), resp["processed"])
}

func TestRunWorker_Unknown(t *testing.T) {
	mux := adminMux(&mockReviewService{}, &mockEmbedWorker{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/run/reindex", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunWorker_Failure(t *testing.T) {
	mux := adminMux(&mockReviewService{err: assert.AnError}, &mockEmbedWorker{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/run/sweep", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRescoreLead(t *testing.T) {
	matcher := &mockMatcherService{}
	mux := http.NewServeMux()
	NewAdminHandler(nil, nil, matcher, nil, nil, &mockReviewService{}, 100, 50, zap.NewNop()).RegisterRoutes(mux)

	leadID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/leads/"+leadID.String()+"/rescore", nil)
	req.Header.Set(TenantHeader, uuid.NewString())
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, leadID, matcher.rescoredID)
}

func TestRescoreLead_NotFound(t *testing.T) {
	matcher := &mockMatcherService{err: apperrors.ErrNotFound}
	mux := http.NewServeMux()
	NewAdminHandler(nil, nil, matcher, nil, nil, &mockReviewService{}, 100, 50, zap.NewNop()).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/leads/"+uuid.NewString()+"/rescore", nil)
	req.Header.Set(TenantHeader, uuid.NewString())
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmbeddingStats(t *testing.T) {
	mux := adminMux(&mockReviewService{}, &mockEmbedWorker{
		stats: &repositories.EmbeddingQueueStats{PendingCount: 5, FailedCount: 1},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/embeddings/stats", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats repositories.EmbeddingQueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 5, stats.PendingCount)
}
