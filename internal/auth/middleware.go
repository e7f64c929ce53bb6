package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Principal is the authenticated caller. API keys and OIDC tokens both
// resolve to one of these; handlers never see the credential itself.
type Principal struct {
	Subject     string       // key ID or token subject
	TenantID    string       // empty for platform operators
	Permissions []Permission
}

// Can reports whether the principal holds perm.
func (p *Principal) Can(perm Permission) bool {
	return p != nil && HasPermission(p.Permissions, perm)
}

// Scoped reports whether the principal may act on the given tenant. A
// platform key (empty TenantID) may act on any tenant.
func (p *Principal) Scoped(tenantID string) bool {
	if p == nil {
		return false
	}
	return p.TenantID == "" || p.TenantID == tenantID
}

type contextKey string

const principalKey contextKey = "principal"

// FromContext retrieves the authenticated principal, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// WithPrincipal returns a context carrying the principal. Exported for
// handler tests.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// TokenVerifier validates an OIDC bearer token and maps it to a principal.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, rawToken string) (*Principal, error)
}

// Middleware authenticates requests with either an API key (X-API-Key
// header, or Bearer with the key prefix) or an OIDC bearer JWT.
type Middleware struct {
	keys      *KeyStore
	oidc      TokenVerifier // optional
	log       *zap.Logger
	skipPaths []string
}

// NewMiddleware creates auth middleware. oidc may be nil when only API
// keys are in use.
func NewMiddleware(keys *KeyStore, oidc TokenVerifier, log *zap.Logger) *Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &Middleware{
		keys: keys,
		oidc: oidc,
		log:  log,
		skipPaths: []string{
			"/healthz",
			"/readyz",
			"/metrics",
			"/carrier/", // carrier webhooks are HMAC-verified, not key-authed
		},
	}
}

// Wrap applies authentication to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, path := range m.skipPaths {
			if r.URL.Path == path || (strings.HasSuffix(path, "/") && strings.HasPrefix(r.URL.Path, path)) {
				next.ServeHTTP(w, r)
				return
			}
		}

		p, err := m.authenticate(r)
		if err != nil {
			m.log.Debug("request rejected",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="frontdesk"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*Principal, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return m.validateKey(apiKey)
	}

	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		token := strings.TrimPrefix(authz, "Bearer ")
		// API keys carry a fixed prefix; everything else is treated as
		// an OIDC token.
		if strings.HasPrefix(token, "fdk_") {
			return m.validateKey(token)
		}
		if m.oidc != nil {
			return m.oidc.VerifyToken(r.Context(), token)
		}
	}

	return nil, errNoCredentials
}

func (m *Middleware) validateKey(plainKey string) (*Principal, error) {
	key, err := m.keys.Validate(plainKey)
	if err != nil {
		return nil, err
	}
	return &Principal{
		Subject:     key.ID,
		TenantID:    key.TenantID,
		Permissions: key.Permissions,
	}, nil
}

var errNoCredentials = &credentialError{}

type credentialError struct{}

func (*credentialError) Error() string { return "no credentials presented" }
