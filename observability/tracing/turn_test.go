package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*TurnTracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return NewTurnTracer(tp.Tracer("test")), exporter
}

func TestTurnTracer_StartTurn(t *testing.T) {
	tt, exporter := newTestTracer(t)

	ctx, span := tt.StartTurn(context.Background(), "u1", "s1")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "conversation.turn" {
		t.Errorf("expected span name 'conversation.turn', got %q", spans[0].Name)
	}
	found := 0
	for _, attr := range spans[0].Attributes {
		switch {
		case string(attr.Key) == "mindcare.user_id" && attr.Value.AsString() == "u1":
			found++
		case string(attr.Key) == "mindcare.session_id" && attr.Value.AsString() == "s1":
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected user and session attributes, got %v", spans[0].Attributes)
	}
}

func TestTurnTracer_NodeIsChildOfTurn(t *testing.T) {
	tt, exporter := newTestTracer(t)

	ctx, turn := tt.StartTurn(context.Background(), "u1", "s1")
	_, node := tt.StartNode(ctx, "risk_check")
	node.End()
	turn.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "conversation.node.risk_check" {
		t.Errorf("unexpected span name: %q", spans[0].Name)
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("node span should be a child of the turn span")
	}
}

func TestTurnTracer_RecordErrorAndSuccess(t *testing.T) {
	tt, exporter := newTestTracer(t)

	_, failed := tt.StartCall(context.Background(), "llm")
	tt.RecordError(failed, errors.New("boom"))
	tt.RecordError(failed, nil)
	failed.End()

	_, ok := tt.StartCall(context.Background(), "wikipedia")
	tt.SetSuccess(ok)
	ok.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Name != "external.llm" {
		t.Errorf("expected error status on external.llm, got %v %q", spans[0].Status.Code, spans[0].Name)
	}
	if len(spans[0].Events) != 1 {
		t.Errorf("expected one recorded error event, got %d", len(spans[0].Events))
	}
	if spans[1].Status.Code != codes.Ok {
		t.Errorf("expected ok status, got %v", spans[1].Status.Code)
	}
}

func TestNewTurnTracer_DefaultsToGlobal(t *testing.T) {
	if NewTurnTracer(nil).tracer == nil {
		t.Fatal("expected a tracer from the global provider")
	}
	if SpanFromContext(context.Background()) == nil {
		t.Fatal("expected a non-nil span")
	}
}
