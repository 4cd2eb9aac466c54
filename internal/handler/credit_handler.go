package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"audiovault/internal/auth"
	"audiovault/internal/service"
)

type CreditHandler struct {
	ledger        *service.CreditLedger
	webhookSecret string
	logger        *zap.Logger
}

func NewCreditHandler(ledger *service.CreditLedger, webhookSecret string, logger *zap.Logger) *CreditHandler {
	return &CreditHandler{
		ledger:        ledger,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// GetCredits handles GET /v1/credits.
func (h *CreditHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	info, err := h.ledger.GetCreditInfo(r.Context(), accountID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// GetHistory handles GET /v1/credits/history?limit=N.
func (h *CreditHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.ledger.History(r.Context(), accountID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// Webhook handles POST /v1/credits/webhook: the payment processor calls
// this after a successful purchase. The processor's own integration is out
// of scope; all we need is "credit this account".
func (h *CreditHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		AccountID string `json:"account_id"`
		Credits   int64  `json:"credits"`
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.Credits <= 0 {
		http.Error(w, "account_id and a positive credits amount are required", http.StatusBadRequest)
		return
	}

	entry, err := h.ledger.Credit(r.Context(), req.AccountID, req.Credits, "purchase:"+req.Reference)
	if err != nil {
		h.logger.Error("webhook credit failed",
			zap.String("account_id", req.AccountID),
			zap.Error(err),
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}
