// Package config provides configuration loading for the platform.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/frontdesk/internal/auth"
)

// Config holds all platform configuration.
type Config struct {
	// Listen address (default ":8080")
	ListenAddr string `yaml:"listen_addr"`
	// Database DSN: "sqlite:/path.db" (default), "postgres://...", "mysql:..."
	DatabaseDSN string `yaml:"database_dsn"`

	// TLS settings
	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`

	// Auth
	AuthEnabled bool            `yaml:"auth_enabled"`
	OIDC        auth.OIDCConfig `yaml:"oidc,omitempty"`

	// Carrier integration
	Carrier CarrierConfig `yaml:"carrier"`

	// AI conversation provider endpoints
	Provider ProviderConfig `yaml:"provider"`

	// Autoscaling of media worker replicas
	Autoscale AutoscaleConfig `yaml:"autoscale,omitempty"`

	// Salt for caller number fingerprints (required in production)
	FingerprintSalt string `yaml:"fingerprint_salt,omitempty"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	// OTLP trace endpoint; empty disables tracing
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// CarrierConfig holds the telephony carrier integration settings.
type CarrierConfig struct {
	// Shared HMAC token for webhook and command signing (hex, 64+ chars)
	SigningToken string `yaml:"signing_token"`
	// Base URL of the carrier's call command API
	CommandURL string `yaml:"command_url"`
	// Externally reachable websocket URL for call media
	MediaURL string `yaml:"media_url"`
	// Numbers maps provisioned inbound numbers to tenants
	Numbers []NumberMapping `yaml:"numbers,omitempty"`
}

// NumberMapping routes one provisioned number to a tenant department.
type NumberMapping struct {
	Number     string `yaml:"number"`
	TenantID   string `yaml:"tenant_id"`
	Department string `yaml:"department,omitempty"`
}

// ProviderEndpoint is one AI conversation endpoint behind the gateway.
type ProviderEndpoint struct {
	ID        string `yaml:"id"`
	URL       string `yaml:"url"`
	HealthURL string `yaml:"health_url,omitempty"`
	Weight    int    `yaml:"weight,omitempty"`
	Priority  int    `yaml:"priority,omitempty"` // failover tier, lower preferred
}

// ProviderConfig configures the AI conversation gateway.
type ProviderConfig struct {
	Endpoints []ProviderEndpoint `yaml:"endpoints"`
	// Policy: weighted_round_robin (default), round_robin, least_connections
	Policy string `yaml:"policy,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
}

// AutoscaleConfig configures the media worker autoscaler.
type AutoscaleConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Namespace  string `yaml:"namespace,omitempty"`
	Deployment string `yaml:"deployment,omitempty"`
}

// RateLimitConfig configures per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		DatabaseDSN: "sqlite:/var/lib/frontdesk/frontdesk.db",
		LogLevel:    "info",
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
		},
	}
}

// Load reads configuration from a YAML file, then overlays environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("FRONTDESK_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FRONTDESK_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("FRONTDESK_TLS_CERT"); v != "" {
		cfg.TLSCert = v
	}
	if v := os.Getenv("FRONTDESK_TLS_KEY"); v != "" {
		cfg.TLSKey = v
	}
	if v := os.Getenv("FRONTDESK_AUTH"); v != "" {
		cfg.AuthEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FRONTDESK_CARRIER_TOKEN"); v != "" {
		cfg.Carrier.SigningToken = v
	}
	if v := os.Getenv("FRONTDESK_CARRIER_COMMAND_URL"); v != "" {
		cfg.Carrier.CommandURL = v
	}
	if v := os.Getenv("FRONTDESK_CARRIER_MEDIA_URL"); v != "" {
		cfg.Carrier.MediaURL = v
	}
	if v := os.Getenv("FRONTDESK_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("FRONTDESK_FINGERPRINT_SALT"); v != "" {
		cfg.FingerprintSalt = v
	}
	if v := os.Getenv("FRONTDESK_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("FRONTDESK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FRONTDESK_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("FRONTDESK_OIDC_ISSUER"); v != "" {
		cfg.OIDC.Enabled = true
		cfg.OIDC.IssuerURL = v
	}
	if v := os.Getenv("FRONTDESK_OIDC_CLIENT_ID"); v != "" {
		cfg.OIDC.ClientID = v
	}

	return cfg, cfg.validate()
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

func (c Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	for i, nm := range c.Carrier.Numbers {
		if nm.Number == "" || nm.TenantID == "" {
			return fmt.Errorf("carrier number mapping %d: number and tenant_id required", i)
		}
	}
	for i, ep := range c.Provider.Endpoints {
		if ep.ID == "" || ep.URL == "" {
			return fmt.Errorf("provider endpoint %d: id and url required", i)
		}
	}
	if c.Autoscale.Enabled && (c.Autoscale.Namespace == "" || c.Autoscale.Deployment == "") {
		return fmt.Errorf("autoscale requires namespace and deployment")
	}
	return nil
}

// HasTLS returns true if TLS is configured.
func (c Config) HasTLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
