package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/GoCodeAlone/mindcare/session"
)

// UserHandler serves a user's history, checkpoints and short-term session
// memory.
type UserHandler struct {
	sessions *session.Service
	logger   *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(sessions *session.Service, logger *slog.Logger) *UserHandler {
	return &UserHandler{sessions: sessions, logger: logger}
}

// History handles GET /user/{id}/history.
func (h *UserHandler) History(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "list sessions", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Checkpoints handles GET /user/{id}/checkpoints.
func (h *UserHandler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := h.sessions.Checkpoints(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "list checkpoints", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
}

// RestoreRequest names the checkpoint to restore.
type RestoreRequest struct {
	CheckpointID string `json:"checkpoint_id" jsonschema:"required,minLength=1"`
}

// Restore handles POST /user/{id}/restore.
func (h *UserHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.sessions.Restore(r.Context(), r.PathValue("id"), req.CheckpointID); err != nil {
		writeServiceError(w, h.logger, "restore checkpoint", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"restored": true, "checkpoint_id": req.CheckpointID})
}

// SessionContext handles GET /user/{id}/session/context?max_messages=N.
func (h *UserHandler) SessionContext(w http.ResponseWriter, r *http.Request) {
	maxMessages := session.DefaultContextMessages
	if v := r.URL.Query().Get("max_messages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "max_messages must be a positive integer")
			return
		}
		maxMessages = n
	}
	text, active, err := h.sessions.SessionContext(r.Context(), r.PathValue("id"), maxMessages)
	if err != nil {
		writeServiceError(w, h.logger, "session context", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"context": text, "active": active})
}

// SessionHistory handles GET /user/{id}/session/history.
func (h *UserHandler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	msgs, active, err := h.sessions.SessionHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "session history", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"history": msgs, "active": active})
}
