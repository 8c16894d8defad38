package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// Middleware holds the bearer-token secret and the per-client rate limiter.
type Middleware struct {
	jwtSecret []byte
	issuer    string
	limiter   *rateLimiterStore
}

// NewMiddleware creates a Middleware. An empty secret disables authentication;
// a zero rps disables rate limiting.
func NewMiddleware(jwtSecret, issuer string, rps float64, burst int) *Middleware {
	m := &Middleware{jwtSecret: []byte(jwtSecret), issuer: issuer}
	if rps > 0 {
		m.limiter = newRateLimiterStore(rate.Limit(rps), burst)
	}
	return m
}

// AuthEnabled reports whether bearer tokens are required.
func (m *Middleware) AuthEnabled() bool { return len(m.jwtSecret) > 0 }

// RequireAuth validates the HS256 Bearer token and stores its subject in the
// request context. Returns 401 if the token is missing or invalid. It passes
// every request through when authentication is disabled.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		subject, err := m.authenticate(r)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetSubject(r.Context(), subject)))
	})
}

// RequirePathUser is RequireAuth plus a check that the token subject owns
// the {id} path segment.
func (m *Middleware) RequirePathUser(next http.Handler) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, r.PathValue("id")) {
			WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// authorized reports whether the request may act for userID. Requests that
// went through RequireAuth with authentication disabled carry no subject and
// are always allowed.
func authorized(r *http.Request, userID string) bool {
	subject, ok := SubjectFromContext(r.Context())
	return !ok || subject == userID
}

// ipLimiter holds a per-IP token bucket and the last time it was accessed.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds per-IP limiters.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	r        rate.Limit
	b        int
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	if burst <= 0 {
		burst = 1
	}
	s := &rateLimiterStore{
		limiters: make(map[string]*ipLimiter),
		r:        r,
		b:        burst,
		stopCh:   make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// cleanup periodically removes stale entries until stop is called.
func (s *rateLimiterStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for ip, l := range s.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(s.limiters, ip)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *rateLimiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

// Stop shuts down the rate limiter's cleanup goroutine. It is safe to call
// multiple times.
func (m *Middleware) Stop() {
	if m.limiter != nil {
		m.limiter.stopOnce.Do(func() { close(m.limiter.stopCh) })
	}
}

// RateLimit limits requests per client IP. Requests over the limit receive
// HTTP 429 with a Retry-After header.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	if m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.limiter.get(realIP(r))
		reservation := limiter.Reserve()
		if d := reservation.Delay(); d > 0 {
			// Cancel so the token is returned; we are rejecting this request.
			reservation.Cancel()
			retryAfter := int(math.Ceil(d.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// realIP extracts the client IP from common proxy headers or RemoteAddr.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// Take the first address in the list.
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate extracts the Bearer token (or the access_token query
// parameter, for websocket clients), validates it and returns its subject.
func (m *Middleware) authenticate(r *http.Request) (string, error) {
	tokenStr := r.URL.Query().Get("access_token")
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", jwt.ErrTokenMalformed
		}
		tokenStr = parts[1]
	}
	if tokenStr == "" {
		return "", jwt.ErrTokenMalformed
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", jwt.ErrTokenMalformed
	}
	return sub, nil
}
