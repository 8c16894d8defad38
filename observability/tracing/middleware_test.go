package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestMux mirrors the route shapes the mindcare API serves.
func newTestMux(t *testing.T, tt *TurnTracer) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/respond", func(w http.ResponseWriter, r *http.Request) {
		_, span := tt.StartTurn(r.Context(), "u1", "s1")
		span.End()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /user/{id}/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("GET /ws/session", func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	})
	return SpanMiddleware(mux, "/health")
}

func spanAttr(span tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpanMiddleware_TurnIsChildOfRequest(t *testing.T) {
	_, exporter := newRecordingProvider(t, Config{})
	handler := newTestMux(t, NewTurnTracer(nil))

	req := httptest.NewRequest(http.MethodPost, "/session/respond", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	turn, server := spans[0], spans[1]
	if server.Name != "POST /session/respond" {
		t.Errorf("server span name = %q", server.Name)
	}
	if turn.Name != "conversation.turn" {
		t.Errorf("turn span name = %q", turn.Name)
	}
	if turn.Parent.SpanID() != server.SpanContext.SpanID() {
		t.Error("turn span should be a child of the request span")
	}
}

func TestSpanMiddleware_NamesSpanByRoute(t *testing.T) {
	_, exporter := newRecordingProvider(t, Config{})
	handler := newTestMux(t, NewTurnTracer(nil))

	for _, user := range []string{"alice", "bob"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user/"+user+"/history", nil))
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for i, user := range []string{"alice", "bob"} {
		if spans[i].Name != "GET /user/{id}/history" {
			t.Errorf("span name = %q", spans[i].Name)
		}
		if v, ok := spanAttr(spans[i], "mindcare.user_id"); !ok || v.AsString() != user {
			t.Errorf("mindcare.user_id = %v, want %s", v.AsString(), user)
		}
		if v, ok := spanAttr(spans[i], "http.route"); !ok || v.AsString() != "GET /user/{id}/history" {
			t.Errorf("http.route = %v", v.AsString())
		}
	}
}

func TestSpanMiddleware_UnmatchedKeepsPath(t *testing.T) {
	_, exporter := newRecordingProvider(t, Config{})
	handler := newTestMux(t, NewTurnTracer(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /nowhere" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != http.StatusNotFound {
		t.Errorf("status attribute = %d", v.AsInt64())
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("a client error should not mark the server span failed")
	}
}

func TestSpanMiddleware_ServerErrorMarksSpan(t *testing.T) {
	_, exporter := newRecordingProvider(t, Config{})
	handler := newTestMux(t, NewTurnTracer(nil))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/broken", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected one failed span, got %+v", spans)
	}
}

func TestSpanMiddleware_SkipsHealthEndpoint(t *testing.T) {
	_, exporter := newRecordingProvider(t, Config{})
	handler := newTestMux(t, NewTurnTracer(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("expected no spans for /health, got %d", n)
	}
}

func TestSpanMiddleware_ContinuesIncomingTrace(t *testing.T) {
	_, exporter := newRecordingProvider(t, Config{})
	handler := newTestMux(t, NewTurnTracer(nil))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/user/u1/history", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != traceID {
		t.Errorf("trace id = %s, want %s", got, traceID)
	}
	if !spans[0].Parent.IsRemote() {
		t.Error("parent should be the remote caller")
	}
}

func TestSpanMiddleware_WebsocketUpgrade(t *testing.T) {
	_, exporter := newRecordingProvider(t, Config{})
	inner := newTestMux(t, NewTurnTracer(nil))
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		close(done)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, _, _ = conn.ReadMessage()
	_ = conn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if v, ok := spanAttr(spans[0], "mindcare.websocket"); !ok || !v.AsBool() {
		t.Error("expected the websocket attribute")
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("status attribute = %d", v.AsInt64())
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rw.Hijack(); err == nil {
		t.Fatal("expected an error when the underlying writer cannot hijack")
	}
	if rw.hijacked {
		t.Error("a failed hijack must not be recorded")
	}
}

func TestResponseWriter_WriteHeaderOnce(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rw.statusCode)
	}
}
