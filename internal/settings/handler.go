package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/DAJ8112/Yanck/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetSettings never returns the stored key in the clear.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Get(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to read settings", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "failed to read settings", http.StatusInternalServerError)
		return
	}
	out := *s
	out.GeminiAPIKey = MaskKey(s.GeminiAPIKey)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": out})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.svc.Update(r.Context(), &s); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetTenantSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	s, err := h.svc.GetTenant(r.Context(), tenantID)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": s})
}

func (h *Handler) UpdateTenantSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var s TenantSettings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}
	s.TenantID = tenantID
	if err := h.svc.UpdateTenant(r.Context(), &s); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": s})
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("tenant")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "tenant must be a UUID", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidSettings) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "settings request failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", "settings request failed", http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
