package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/session"
)

const (
	maxBodyBytes  = 1 << 20
	maxFrameBytes = 64 << 10
	wsWriteWait   = 10 * time.Second
)

// SessionHandler handles session start, turns and the websocket channel.
type SessionHandler struct {
	sessions *session.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewSessionHandler creates a SessionHandler. allowedOrigins controls which
// browser origins may open a websocket: empty means same-origin only and "*"
// allows any.
func NewSessionHandler(sessions *session.Service, allowedOrigins []string, logger *slog.Logger) *SessionHandler {
	h := &SessionHandler{sessions: sessions, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		}
	}
	return h
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// Start handles POST /session/start.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !authorized(r, req.UserID) {
		WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	resp, err := h.sessions.Start(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "session start", err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Respond handles POST /session/respond.
func (h *SessionHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req session.RespondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !authorized(r, req.UserID) {
		WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	resp, err := h.sessions.Respond(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "session respond", err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// wsTurn is one client frame on the websocket channel. The user and session
// come from the connection's query string.
type wsTurn struct {
	Text     string          `json:"text"`
	Language string          `json:"language,omitempty"`
	Facial   *facial.Emotion `json:"facial_emotion,omitempty"`
	Finish   bool            `json:"finish,omitempty"`
}

// Stream handles GET /ws/session?user_id=..&session_id=... Each text frame is
// one turn; each turn is answered with one envelope frame. The server closes
// the connection after the session finishes.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")
	if userID == "" || sessionID == "" {
		WriteError(w, http.StatusBadRequest, "user_id and session_id are required")
		return
	}
	if !authorized(r, userID) {
		WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	ctx := r.Context()
	for {
		var frame wsTurn
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				var syntaxErr *json.SyntaxError
				if errors.As(err, &syntaxErr) {
					h.writeFrame(conn, envelope{Error: "invalid frame"})
					continue
				}
				h.logger.Debug("websocket read ended", "user_id", userID, "err", err)
			}
			return
		}

		resp, err := h.sessions.Respond(ctx, session.RespondRequest{
			UserID:    userID,
			SessionID: sessionID,
			Text:      frame.Text,
			Language:  frame.Language,
			Facial:    frame.Facial,
			Finish:    frame.Finish,
		})
		if err != nil {
			status, msg := errorStatus(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error("websocket turn failed", "user_id", userID, "err", err)
			}
			if !h.writeFrame(conn, envelope{Error: msg}) {
				return
			}
			continue
		}
		if !h.writeFrame(conn, envelope{Data: resp}) {
			return
		}
		if resp.Finished {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

func (h *SessionHandler) writeFrame(conn *websocket.Conn, v envelope) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Debug("websocket write failed", "err", err)
		return false
	}
	return true
}
