package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"audiovault/internal/auth"
	"audiovault/internal/domain"
	"audiovault/internal/service"
)

const maxUploadMemory = 32 << 20 // 32MB before spilling to disk

// ActionHandler exposes the billable operations. Every request goes
// through the gateway; nothing here touches the ledger or the object store
// directly.
type ActionHandler struct {
	gateway *service.ActionGateway
	logger  *zap.Logger
}

func NewActionHandler(gateway *service.ActionGateway, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{gateway: gateway, logger: logger}
}

// UploadAudio handles POST /v1/actions/upload: multipart form with an
// "audio" file and a "container_ref" section slot.
func (h *ActionHandler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	containerRef := r.FormValue("container_ref")
	if containerRef == "" {
		http.Error(w, "container_ref is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "audio file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	result, err := h.gateway.Run(r.Context(), &domain.ActionRequest{
		AccountID:    accountID,
		Kind:         domain.ActionUpload,
		ContainerRef: containerRef,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		SizeBytes:    header.Size,
		Payload:      file,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeActionResult(w, result)
}

// ProcessDocument handles POST /v1/actions/parse: multipart form with a
// "document" file (DOCX or plain text).
func (h *ActionHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		http.Error(w, "document file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	result, err := h.gateway.Run(r.Context(), &domain.ActionRequest{
		AccountID:    accountID,
		Kind:         domain.ActionParse,
		ContainerRef: r.FormValue("container_ref"),
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		SizeBytes:    header.Size,
		Payload:      file,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeActionResult(w, result)
}

// ExportAudiobook handles POST /v1/actions/export: JSON body naming the
// container to assemble and the estimated output size for the quota gate.
func (h *ActionHandler) ExportAudiobook(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ContainerRef       string `json:"container_ref"`
		EstimatedSizeBytes int64  `json:"estimated_size_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ContainerRef == "" {
		http.Error(w, "container_ref is required", http.StatusBadRequest)
		return
	}

	result, err := h.gateway.Run(r.Context(), &domain.ActionRequest{
		AccountID:    accountID,
		Kind:         domain.ActionExport,
		ContainerRef: req.ContainerRef,
		SizeBytes:    req.EstimatedSizeBytes,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeActionResult(w, result)
}

func writeActionResult(w http.ResponseWriter, result *domain.ActionResult) {
	w.Header().Set("Content-Type", "application/json")

	switch result.Status {
	case domain.StatusCompleted:
		w.WriteHeader(http.StatusOK)
	case domain.StatusInsufficientCredits:
		w.WriteHeader(http.StatusPaymentRequired)
	case domain.StatusInsufficientStorage:
		w.WriteHeader(http.StatusInsufficientStorage)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	json.NewEncoder(w).Encode(result)
}
