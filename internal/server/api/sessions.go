package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/signcaption/internal/store"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

// SessionHandler serves the caption history under /api/sessions.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// ServeHTTP routes /api/sessions and /api/sessions/{id}.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	if _, err := uuid.Parse(path); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type sessionResponse struct {
	ID         string  `json:"id"`
	Endpoint   string  `json:"endpoint"`
	StartedAt  string  `json:"started_at"`
	EndedAt    *string `json:"ended_at"`
	TokenCount int     `json:"token_count"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	CreatedAt string `json:"created_at"`
}

type sessionDetailResponse struct {
	sessionResponse
	Transcript string          `json:"transcript"`
	Tokens     []tokenResponse `json:"tokens"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:         s.ID,
		Endpoint:   s.Endpoint,
		StartedAt:  s.StartedAt.Format(time.RFC3339),
		TokenCount: s.TokenCount,
	}
	if s.EndedAt != nil {
		ended := s.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &ended
	}
	return resp
}

// list handles GET /api/sessions?limit=N, newest first.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxSessionLimit)
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	resp := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/sessions/{id} and includes the session's tokens.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	tokens, err := h.store.Tokens().ListBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tokens")
		return
	}

	resp := sessionDetailResponse{
		sessionResponse: toSessionResponse(s),
		Tokens:          make([]tokenResponse, 0, len(tokens)),
	}
	words := make([]string, 0, len(tokens))
	for _, t := range tokens {
		resp.Tokens = append(resp.Tokens, tokenResponse{
			Token:     t.Token,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
		words = append(words, t.Token)
	}
	resp.Transcript = strings.Join(words, " ")
	writeJSON(w, http.StatusOK, resp)
}

// delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
