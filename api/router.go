// Package api exposes the session service over HTTP and websockets.
package api

import (
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/observability/metrics"
	"github.com/GoCodeAlone/mindcare/observability/tracing"
	"github.com/GoCodeAlone/mindcare/scale"
	"github.com/GoCodeAlone/mindcare/session"
)

// Config holds configuration for the API layer.
type Config struct {
	// JWTSecret enables HS256 bearer auth when set. Token subjects must
	// match the user a request acts for.
	JWTSecret string //nolint:gosec // G117: config field
	JWTIssuer string

	// RateLimitRPS and RateLimitBurst size the per-IP token bucket; zero
	// RPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// AllowedOrigins are the browser origins allowed on /ws/session.
	AllowedOrigins []string

	ServiceName string
	Version     string
}

// Services groups everything the handlers call.
type Services struct {
	Sessions *session.Service
	Facial   *facial.Detector
	Bulkhead *scale.Bulkhead
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	// Ready and Live are optional readiness and liveness probes.
	Ready http.Handler
	Live  http.Handler
}

// Router is the complete HTTP handler. Stop releases the rate limiter.
type Router struct {
	http.Handler
	mw *Middleware
}

// Stop releases background resources held by the middleware.
func (r *Router) Stop() { r.mw.Stop() }

// NewRouter creates the HTTP handler with every route registered.
func NewRouter(svc Services, cfg Config) *Router {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mindcare"
	}
	mux := http.NewServeMux()
	mw := NewMiddleware(cfg.JWTSecret, cfg.JWTIssuer, cfg.RateLimitRPS, cfg.RateLimitBurst)

	// --- Sessions ---
	sessH := NewSessionHandler(svc.Sessions, cfg.AllowedOrigins, logger)
	mux.Handle("POST /session/start", mw.RequireAuth(http.HandlerFunc(sessH.Start)))
	mux.Handle("POST /session/respond", mw.RequireAuth(http.HandlerFunc(sessH.Respond)))
	mux.Handle("GET /ws/session", mw.RequireAuth(http.HandlerFunc(sessH.Stream)))

	// --- Users ---
	userH := NewUserHandler(svc.Sessions, logger)
	mux.Handle("GET /user/{id}/history", mw.RequirePathUser(http.HandlerFunc(userH.History)))
	mux.Handle("GET /user/{id}/checkpoints", mw.RequirePathUser(http.HandlerFunc(userH.Checkpoints)))
	mux.Handle("POST /user/{id}/restore", mw.RequirePathUser(http.HandlerFunc(userH.Restore)))
	mux.Handle("GET /user/{id}/session/context", mw.RequirePathUser(http.HandlerFunc(userH.SessionContext)))
	mux.Handle("GET /user/{id}/session/history", mw.RequirePathUser(http.HandlerFunc(userH.SessionHistory)))

	// --- Facial analysis and content ---
	facialH := NewFacialHandler(svc.Facial, svc.Bulkhead, logger)
	mux.Handle("POST /facial/analyze", mw.RequireAuth(http.HandlerFunc(facialH.Analyze)))
	mux.HandleFunc("GET /recommendations", facialH.Recommendations)

	// --- Schemas ---
	schemaH := NewSchemaHandler()
	mux.HandleFunc("GET /schema", schemaH.List)
	mux.HandleFunc("GET /schema/{name}", schemaH.Get)

	// --- Operations ---
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": cfg.ServiceName,
			"version": cfg.Version,
		})
	})
	if svc.Ready != nil {
		mux.Handle("GET /ready", svc.Ready)
	}
	if svc.Live != nil {
		mux.Handle("GET /live", svc.Live)
	}
	var handler http.Handler = mux
	untraced := []string{"/health", "/ready", "/live"}
	if svc.Metrics != nil {
		mux.Handle("GET "+svc.Metrics.Path(), svc.Metrics.Handler())
		handler = svc.Metrics.Middleware(mux)
		untraced = append(untraced, svc.Metrics.Path())
	}

	return &Router{
		Handler: tracing.SpanMiddleware(mw.RateLimit(handler), untraced...),
		mw:      mw,
	}
}
