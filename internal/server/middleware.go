package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/marcus-qen/frontdesk/internal/auth"
)

type contextKey string

const correlationKey contextKey = "correlation_id"

const correlationHeader = "X-Correlation-ID"

// CorrelationID returns the request's correlation id, if set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// withCorrelationID accepts a caller-supplied correlation id or mints one,
// stores it in the context, and echoes it on the response.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey, id)))
	})
}

// rateLimited applies per-principal limits. Unauthenticated requests are
// keyed by remote address. Health, metrics and carrier paths are exempt;
// the carrier edge has its own signature gate.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz", r.URL.Path == "/readyz", r.URL.Path == "/metrics",
			strings.HasPrefix(r.URL.Path, "/carrier/"):
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.Header.Get("Authorization")
		}
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = "addr:" + host
		}

		ok, retryAfter := s.limiter.Allow(key)
		if !ok {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			writeJSONError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withPermission gates a handler on a permission when auth is enabled.
func (s *Server) withPermission(perm auth.Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authMW == nil {
			next(w, r)
			return
		}
		p, ok := auth.FromContext(r.Context())
		if !ok || !p.Can(perm) {
			writeJSONError(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}
		next(w, r)
	}
}

// scopedTenant checks the principal may act on the tenant in the path.
func (s *Server) scopedTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.PathValue("id")
	if tenantID == "" {
		writeJSONError(w, r, http.StatusBadRequest, "missing tenant id")
		return "", false
	}
	if s.authMW != nil {
		p, ok := auth.FromContext(r.Context())
		if !ok || !p.Scoped(tenantID) {
			writeJSONError(w, r, http.StatusForbidden, "tenant access denied")
			return "", false
		}
	}
	return tenantID, true
}
