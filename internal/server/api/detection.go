package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/signcaption/internal/app"
	"github.com/ayusman/signcaption/internal/scheduler"
)

// DetectionController switches the pipeline on and off.
type DetectionController interface {
	Status() app.Status
	SetActive(active bool) error
	Reconnect(ctx context.Context) error
}

// DetectionHandler serves /api/detection and /api/detection/reconnect.
type DetectionHandler struct {
	ctrl DetectionController
}

// NewDetectionHandler creates a DetectionHandler.
func NewDetectionHandler(c DetectionController) *DetectionHandler {
	return &DetectionHandler{ctrl: c}
}

type setDetectionRequest struct {
	Active *bool `json:"active"`
}

// ServeHTTP routes detection requests.
func (h *DetectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/detection")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.ctrl.Status())
		case http.MethodPut:
			h.set(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "reconnect":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.reconnect(w, r)
	default:
		http.NotFound(w, r)
	}
}

// set handles PUT /api/detection with body {"active": bool}.
func (h *DetectionHandler) set(w http.ResponseWriter, r *http.Request) {
	var req setDetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}

	if err := h.ctrl.SetActive(*req.Active); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrCameraUnavailable):
			writeError(w, http.StatusServiceUnavailable, "Camera unavailable")
		case errors.Is(err, scheduler.ErrDetectorInitFailed):
			writeError(w, http.StatusServiceUnavailable, "Hand detector unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to change detection state")
		}
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// reconnect handles POST /api/detection/reconnect.
func (h *DetectionHandler) reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Reconnect(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "Predictor unreachable")
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}
