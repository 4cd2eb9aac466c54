package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"audiovault/internal/auth"
	"audiovault/internal/service"
	"audiovault/internal/service/s3"
)

// ObjectHandler serves the object surface: listing, signed playback URLs,
// deletion. Clients only ever hold opaque refs; the signed URL is the sole
// way to reach the blob.
type ObjectHandler struct {
	registry *service.FileRegistry
}

func NewObjectHandler(registry *service.FileRegistry) *ObjectHandler {
	return &ObjectHandler{registry: registry}
}

// ListObjects handles GET /v1/objects.
func (h *ObjectHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rows, err := h.registry.ListActive(r.Context(), accountID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// GetSignedURL handles GET /v1/objects/{ref}/url. The URL expires after an
// hour and can be re-derived at any time without redoing the action that
// produced the object.
func (h *ObjectHandler) GetSignedURL(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	objectRef := chi.URLParam(r, "ref")

	url, err := h.registry.SignURL(r.Context(), accountID, objectRef, s3.DefaultSignTTL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// DeleteObject handles DELETE /v1/objects/{ref}.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	objectRef := chi.URLParam(r, "ref")

	if err := h.registry.Remove(r.Context(), accountID, objectRef); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
