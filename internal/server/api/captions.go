package api

import (
	"context"
	"net/http"

	"github.com/ayusman/signcaption/internal/caption"
)

// CaptionService is the part of the caption service the API needs.
type CaptionService interface {
	Snapshot(ctx context.Context) (caption.Snapshot, error)
	Clear()
}

// CaptionHandler serves /api/caption.
type CaptionHandler struct {
	captions CaptionService
}

// NewCaptionHandler creates a CaptionHandler.
func NewCaptionHandler(c CaptionService) *CaptionHandler {
	return &CaptionHandler{captions: c}
}

// ServeHTTP handles GET (current caption) and DELETE (clear).
func (h *CaptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, err := h.captions.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Caption service unavailable")
			return
		}
		if snap.Words == nil {
			snap.Words = []string{}
		}
		writeJSON(w, http.StatusOK, snap)
	case http.MethodDelete:
		h.captions.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
