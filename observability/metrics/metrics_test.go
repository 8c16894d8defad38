package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordTurn(t *testing.T) {
	c := NewWithConfig(Config{Namespace: "test", EnabledMetrics: []string{"turns"}})

	c.RecordTurn("crisis", "high", 2*time.Second, nil)
	c.RecordTurn("empathetic", "low", time.Second, nil)
	c.RecordTurn("", "low", time.Second, errors.New("llm down"))

	if got := testutil.ToFloat64(c.TurnsTotal.WithLabelValues("crisis", "high", "ok")); got != 1 {
		t.Errorf("crisis turns = %v", got)
	}
	if got := testutil.ToFloat64(c.TurnsTotal.WithLabelValues("none", "low", "error")); got != 1 {
		t.Errorf("failed turns = %v", got)
	}
	if got := testutil.ToFloat64(c.RiskEscalations.WithLabelValues("high")); got != 1 {
		t.Errorf("escalations = %v", got)
	}
	if got := testutil.CollectAndCount(c.RiskEscalations); got != 1 {
		t.Errorf("low-risk turns must not count as escalations, got %d series", got)
	}
}

func TestCollector_DisabledGroupsAreNoops(t *testing.T) {
	c := NewWithConfig(Config{Namespace: "test"})
	c.RecordTurn("crisis", "high", time.Second, nil)
	c.GenerationDone("reply", time.Second, nil)
	c.RecordEmail(EmailSent)
	c.SessionStarted()
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	var nilCollector *Collector
	nilCollector.RecordTurn("x", "low", 0, nil)
	nilCollector.SessionFinished()
}

func TestCollector_EmailAndSessions(t *testing.T) {
	c := New()
	c.RecordEmail(EmailSent)
	c.RecordEmail(EmailFailed)
	c.RecordEmail(EmailSent)
	c.SessionStarted()
	c.SessionStarted()
	c.SessionFinished()
	c.GenerationDone("summary", 300*time.Millisecond, nil)

	if got := testutil.ToFloat64(c.EmailsTotal.WithLabelValues(EmailSent)); got != 2 {
		t.Errorf("sent emails = %v", got)
	}
	if got := testutil.ToFloat64(c.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v", got)
	}
	if got := testutil.CollectAndCount(c.GenerationDuration); got != 1 {
		t.Errorf("generation series = %d", got)
	}
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	c := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{id}/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := c.Middleware(mux)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/"+id+"/history", nil))
	}

	got := testutil.ToFloat64(c.HTTPRequestsTotal.WithLabelValues("GET", "GET /user/{id}/history", "418"))
	if got != 2 {
		t.Fatalf("requests by pattern = %v", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, c.Path(), nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "mindcare_http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
}
