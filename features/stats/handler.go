package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/middleware"
	"github.com/DAJ8112/Yanck/internal/vector"
)

type DocumentRepo interface {
	CountByStatus(ctx context.Context, tenantID string) (map[document.Status]int, error)
	CountChunks(ctx context.Context, tenantID string) (int, error)
	CountEmbeddings(ctx context.Context, tenantID string) (int, error)
}

type JobRepo interface {
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}

type IndexViewer interface {
	View(ctx context.Context, tenantID string, fn func(vector.Index) error) error
}

type Handler struct {
	documents DocumentRepo
	jobs      JobRepo
	indexes   IndexViewer
}

func NewHandler(d DocumentRepo, j JobRepo, i IndexViewer) *Handler {
	return &Handler{documents: d, jobs: j, indexes: i}
}

type StatsResponse struct {
	Documents      map[document.Status]int `json:"documents"`
	Chunks         int                     `json:"chunks"`
	Embeddings     int                     `json:"embeddings"`
	IndexedVectors int                     `json:"indexed_vectors"`
	FailedJobs     int                     `json:"failed_jobs"`
}

// GetStats reports ingestion progress of one tenant. Every status appears in
// the documents map, zero included.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := r.PathValue("tenant")
	if _, err := uuid.Parse(tenantID); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "tenant id must be a UUID", http.StatusBadRequest)
		return
	}
	ctx = middleware.WithTenantID(ctx, tenantID)

	byStatus, err := h.documents.CountByStatus(ctx, tenantID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}
	resp := StatsResponse{Documents: make(map[document.Status]int, len(document.AllStatuses))}
	for _, s := range document.AllStatuses {
		resp.Documents[s] = byStatus[s]
	}

	if resp.Chunks, err = h.documents.CountChunks(ctx, tenantID); err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	if resp.Embeddings, err = h.documents.CountEmbeddings(ctx, tenantID); err != nil {
		slog.ErrorContext(ctx, "failed to count embeddings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count embeddings", http.StatusInternalServerError)
		return
	}

	if resp.FailedJobs, err = h.jobs.CountByTenant(ctx, tenantID); err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	err = h.indexes.View(ctx, tenantID, func(idx vector.Index) error {
		n, err := idx.Len(ctx)
		resp.IndexedVectors = n
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to read index size", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read index size", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
