package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/conversation"
	"github.com/GoCodeAlone/mindcare/memory"
	"github.com/GoCodeAlone/mindcare/scale"
	"github.com/GoCodeAlone/mindcare/session"
	"github.com/GoCodeAlone/mindcare/store"
)

// envelope is a standard JSON response wrapper.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}

// errorStatus maps a service error to an HTTP status and a client-safe
// message.
func errorStatus(err error) (int, string) {
	var detection *facial.DetectionError
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, memory.ErrCheckpointNotFound):
		return http.StatusNotFound, "Checkpoint not found"
	case errors.Is(err, session.ErrSessionFinished):
		return http.StatusConflict, "session already finished"
	case errors.As(err, &detection):
		return http.StatusUnprocessableEntity, detection.Error()
	case errors.Is(err, scale.ErrCapacityExceeded):
		return http.StatusServiceUnavailable, "server busy, try again shortly"
	case errors.Is(err, conversation.ErrGeneration):
		return http.StatusBadGateway, "language model unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeServiceError logs unexpected failures and writes the mapped status.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", "err", err)
	}
	WriteError(w, status, msg)
}
