package auth

import (
	"context"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
)

// OIDCConfig configures bearer-token verification against an external
// identity provider.
type OIDCConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IssuerURL   string `yaml:"issuer_url"`
	ClientID    string `yaml:"client_id"`
	TenantClaim string `yaml:"tenant_claim"` // default "tenant_id"
	RolesClaim  string `yaml:"roles_claim"`  // default "roles"
}

func (c OIDCConfig) normalize() OIDCConfig {
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.RolesClaim == "" {
		c.RolesClaim = "roles"
	}
	return c
}

// OIDCVerifier validates bearer JWTs issued by the configured provider
// and maps their claims onto a Principal. Tokens must carry a tenant
// claim unless the roles claim grants platform admin.
type OIDCVerifier struct {
	config   OIDCConfig
	verifier *gooidc.IDTokenVerifier
	log      *zap.Logger
}

// NewOIDCVerifier runs OIDC discovery against the issuer.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig, log *zap.Logger) (*OIDCVerifier, error) {
	cfg = cfg.normalize()
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("oidc issuer_url required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	return &OIDCVerifier{
		config:   cfg,
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		log:      log.Named("oidc"),
	}, nil
}

// VerifyToken validates the JWT signature, issuer, audience and expiry,
// then maps claims to a Principal.
func (v *OIDCVerifier) VerifyToken(ctx context.Context, rawToken string) (*Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	perms := v.permissionsFor(rolesFrom(claims[v.config.RolesClaim]))
	tenantID, _ := claims[v.config.TenantClaim].(string)
	tenantID = strings.TrimSpace(tenantID)

	if tenantID == "" && !HasPermission(perms, PermAdmin) {
		return nil, fmt.Errorf("token carries no %s claim", v.config.TenantClaim)
	}

	return &Principal{
		Subject:     idToken.Subject,
		TenantID:    tenantID,
		Permissions: perms,
	}, nil
}

func (v *OIDCVerifier) permissionsFor(roles []string) []Permission {
	var perms []Permission
	for _, role := range roles {
		switch role {
		case "admin":
			return []Permission{PermAdmin}
		case "operator":
			perms = append(perms, PermTenantRead, PermTenantWrite, PermCallsRead, PermCallbackWrite)
		case "viewer":
			perms = append(perms, PermTenantRead, PermCallsRead)
		case "auditor":
			perms = append(perms, PermAuditRead)
		}
	}
	return perms
}

func rolesFrom(v any) []string {
	switch typed := v.(type) {
	case string:
		if s := strings.TrimSpace(typed); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
