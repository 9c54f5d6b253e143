package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/DAJ8112/Yanck/internal/embedding"
	"github.com/DAJ8112/Yanck/internal/middleware"
)

type Retriever interface {
	Retrieve(ctx context.Context, tenantID, query string, k int) ([]ContextChunk, error)
}

type IndexRebuilder interface {
	Rebuild(ctx context.Context, tenantID string) error
}

type Handler struct {
	retriever Retriever
	rebuilder IndexRebuilder
}

func NewHandler(r Retriever, rb IndexRebuilder) *Handler {
	return &Handler{retriever: r, rebuilder: rb}
}

type RetrieveRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ctx = middleware.WithTenantID(ctx, tenantID)

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}

	chunks, err := h.retriever.Retrieve(ctx, tenantID, req.Query, req.K)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyQuery):
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		case embedding.IsTransient(err):
			slog.WarnContext(ctx, "query embedding unavailable", "error", err)
			h.writeError(ctx, w, "EMBEDDING_UNAVAILABLE", "embedding service unavailable, retry later", http.StatusServiceUnavailable)
		default:
			slog.ErrorContext(ctx, "retrieval failed", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "retrieval failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"chunks":  chunks,
			"context": FormatContext(chunks),
		},
		"meta": map[string]int{"count": len(chunks)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// RebuildIndex reloads the tenant index from persisted embeddings.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ctx = middleware.WithTenantID(ctx, tenantID)

	if err := h.rebuilder.Rebuild(ctx, tenantID); err != nil {
		slog.ErrorContext(ctx, "index rebuild failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "index rebuild failed", http.StatusInternalServerError)
		return
	}
	slog.InfoContext(ctx, "index rebuilt on request")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.PathValue("tenant")
	if _, err := uuid.Parse(tenantID); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "tenant id must be a UUID", http.StatusBadRequest)
		return "", false
	}
	return tenantID, true
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
