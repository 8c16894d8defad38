package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by the conversation engine.
const InstrumentationName = "github.com/GoCodeAlone/mindcare/conversation"

// TurnTracer creates spans around a conversation turn and each state machine
// node it visits.
type TurnTracer struct {
	tracer trace.Tracer
}

// NewTurnTracer creates a TurnTracer. If tracer is nil, the global tracer
// provider is used.
func NewTurnTracer(tracer trace.Tracer) *TurnTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(InstrumentationName)
	}
	return &TurnTracer{tracer: tracer}
}

// StartTurn begins a span for one user turn.
func (t *TurnTracer) StartTurn(ctx context.Context, userID, sessionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "conversation.turn",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mindcare.user_id", userID),
			attribute.String("mindcare.session_id", sessionID),
		),
	)
}

// StartNode begins a child span for a state machine node.
func (t *TurnTracer) StartNode(ctx context.Context, node string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "conversation.node."+node,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("conversation.node", node)),
	)
}

// StartCall begins a client span for a call to an external collaborator
// such as the language model or a knowledge source.
func (t *TurnTracer) StartCall(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "external."+name, trace.WithSpanKind(trace.SpanKindClient))
}

// RecordError records an error on the given span and sets the span status.
func (t *TurnTracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks a span as successful.
func (t *TurnTracer) SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
