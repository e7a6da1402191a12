// Package api provides HTTP handlers for the onboarding service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bindiq/onboard/internal/store"
)

// Handler serves the REST surface next to the websocket endpoint.
type Handler struct {
	repo store.Repository
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the REST endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
	r.Get("/api/sessions/{sessionID}/transcript", h.HandleTranscript)
}

// HandleHealth reports service and store health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "onboard",
	})
}

// transcriptEntry is one rendered history line.
type transcriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// transcriptResponse is the exported session transcript.
type transcriptResponse struct {
	SessionID string            `json:"session_id"`
	State     string            `json:"state"`
	Progress  int               `json:"progress"`
	Messages  []transcriptEntry `json:"messages"`
}

// HandleTranscript exports a session's history as a transcript.
func (h *Handler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session id required")
		return
	}

	sess, err := h.repo.LoadSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load session for transcript", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	resp := transcriptResponse{
		SessionID: sess.ID,
		State:     sess.State.Tag(),
		Progress:  sess.Progress,
		Messages:  make([]transcriptEntry, 0, len(sess.History)),
	}
	for _, m := range sess.History {
		resp.Messages = append(resp.Messages, transcriptEntry{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	JSON(w, http.StatusOK, resp)
}
