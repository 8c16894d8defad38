package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialSession(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?" + query
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(url, nil)
}

func TestStream(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	sid := env.startSession(t, "u1")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := dialSession(t, srv, "user_id=u1&session_id="+sid)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(wsTurn{Text: "work has been rough"}); err != nil {
		t.Fatal(err)
	}
	var frame struct {
		Data  map[string]any `json:"data"`
		Error string         `json:"error"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Error != "" || frame.Data["assistant_reply"] == "" {
		t.Fatalf("unexpected frame %+v", frame)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	frame.Data, frame.Error = nil, ""
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Error != "invalid frame" {
		t.Fatalf("expected invalid frame error, got %+v", frame)
	}

	if err := conn.WriteJSON(wsTurn{Text: "goodbye", Finish: true}); err != nil {
		t.Fatal(err)
	}
	frame.Data, frame.Error = nil, ""
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Data["finished"] != true {
		t.Fatalf("expected finished turn, got %+v", frame)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure after finish, got %v", err)
	}
}

func TestStream_Rejections(t *testing.T) {
	env := newTestEnv(t, Config{JWTSecret: "s3cret"}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, resp, err := dialSession(t, srv, "user_id=u1&session_id=x")
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %v %v", resp, err)
	}

	tok := signToken(t, "s3cret", "u2")
	_, resp, err = dialSession(t, srv, "user_id=u1&session_id=x&access_token="+tok)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's token, got %v %v", resp, err)
	}

	tok = signToken(t, "s3cret", "u1")
	_, resp, err = dialSession(t, srv, "user_id=u1&access_token="+tok)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without session_id, got %v %v", resp, err)
	}
}
