package tracing

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const httpInstrumentationName = "github.com/GoCodeAlone/mindcare/api"

// SpanMiddleware starts a server span for every request not in skip and
// continues any trace carried in the request headers. Once the mux has
// routed the request the span is renamed to the matched route pattern, so
// "/user/{id}/restore" is one span name rather than one per user. The
// user id path value, when present, is recorded as mindcare.user_id.
func SpanMiddleware(next http.Handler, skip ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slices.Contains(skip, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.GetTracerProvider().Tracer(httpInstrumentationName).Start(ctx,
			r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
				semconv.ServerAddress(r.Host),
			),
		)
		defer span.End()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rw, req)

		if req.Pattern != "" {
			span.SetName(req.Pattern)
			span.SetAttributes(semconv.HTTPRoute(req.Pattern))
		}
		if id := req.PathValue("id"); id != "" {
			span.SetAttributes(attribute.String("mindcare.user_id", id))
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(rw.statusCode))
		switch {
		case rw.hijacked:
			span.SetAttributes(attribute.Bool("mindcare.websocket", true))
		case rw.statusCode >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

// responseWriter records the status code sent to the client.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	hijacked   bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

// Hijack hands the connection to the websocket upgrader.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, buf, err := h.Hijack()
	if err != nil {
		return nil, nil, err
	}
	rw.written = true
	rw.hijacked = true
	rw.statusCode = http.StatusSwitchingProtocols
	return conn, buf, nil
}
