package handler

import (
	"encoding/json"
	"net/http"

	"audiovault/internal/auth"
	"audiovault/internal/service"
)

type QuotaHandler struct {
	quota *service.QuotaTracker
}

func NewQuotaHandler(quota *service.QuotaTracker) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

func (h *QuotaHandler) GetQuotaInfo(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	info, err := h.quota.GetQuotaInfo(r.Context(), accountID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// UpdateQuotaLimit changes an account's storage tier. In production this
// sits behind an admin gateway; the handler itself only validates input.
func (h *QuotaHandler) UpdateQuotaLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		NewLimit  int64  `json:"new_limit"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.quota.UpdateQuotaLimit(r.Context(), req.AccountID, req.NewLimit); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Recalculate rebuilds the account's storage_used from its active registry
// rows.
func (h *QuotaHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.quota.Recalculate(r.Context(), accountID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	info, err := h.quota.GetQuotaInfo(r.Context(), accountID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
