// Package auth provides API key and OIDC bearer authentication for the
// admin and tenant APIs. API keys are tenant-scoped: a key minted for one
// tenant can never read another tenant's data.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/marcus-qen/frontdesk/internal/store"
)

// Permission defines what a principal can do.
type Permission string

const (
	PermTenantRead    Permission = "tenant:read"
	PermTenantWrite   Permission = "tenant:write"
	PermCallsRead     Permission = "calls:read"
	PermCallbackWrite Permission = "callback:write"
	PermAuditRead     Permission = "audit:read"
	PermAdmin         Permission = "admin" // all permissions
)

// APIKey represents a stored API key.
type APIKey struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id"` // empty for platform-level keys
	Name        string       `json:"name"`
	KeyHash     string       `json:"-"`          // never exposed
	KeyPrefix   string       `json:"key_prefix"` // first chars for identification
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	Enabled     bool         `json:"enabled"`
}

// KeyStore manages API keys on the shared database handle.
type KeyStore struct {
	db *store.DB
	mu sync.RWMutex
}

// prefixLen covers "fdk_" plus eight hex chars.
const prefixLen = 12

// NewKeyStore creates the key table on an open handle.
func NewKeyStore(db *store.DB) (*KeyStore, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS api_keys (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL,
		key_hash    TEXT NOT NULL,
		key_prefix  TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT '[]',
		created_at  TEXT NOT NULL,
		expires_at  TEXT,
		enabled     INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		return nil, fmt.Errorf("create api_keys table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_keys_prefix ON api_keys(key_prefix)`)

	return &KeyStore{db: db}, nil
}

// Create generates a new API key, stores the bcrypt hash, and returns the
// plaintext once.
func (ks *KeyStore) Create(tenantID, name string, permissions []Permission, expiresAt *time.Time) (*APIKey, string, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	plainKey := "fdk_" + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plainKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	key := &APIKey{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		KeyHash:     string(hash),
		KeyPrefix:   plainKey[:prefixLen],
		Permissions: permissions,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		Enabled:     true,
	}

	permsJSON, _ := json.Marshal(permissions)
	var expiresStr any
	if expiresAt != nil {
		expiresStr = expiresAt.Format(time.RFC3339Nano)
	}

	_, err = ks.db.Exec(ks.db.Rebind(`INSERT INTO api_keys
		(id, tenant_id, name, key_hash, key_prefix, permissions, created_at, expires_at, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`),
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix,
		string(permsJSON), now.Format(time.RFC3339Nano), expiresStr)
	if err != nil {
		return nil, "", fmt.Errorf("store key: %w", err)
	}

	return key, plainKey, nil
}

// Validate checks a plaintext key, returning the APIKey if valid.
func (ks *KeyStore) Validate(plainKey string) (*APIKey, error) {
	if len(plainKey) < prefixLen {
		return nil, fmt.Errorf("invalid key format")
	}

	prefix := plainKey[:prefixLen]
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var (
		key                  APIKey
		permsJSON, createdAt string
		expiresAt            *string
		enabled              int
	)
	err := ks.db.QueryRow(ks.db.Rebind(`SELECT id, tenant_id, name, key_hash, key_prefix,
		permissions, created_at, expires_at, enabled
		FROM api_keys WHERE key_prefix = ?`), prefix).Scan(
		&key.ID, &key.TenantID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&permsJSON, &createdAt, &expiresAt, &enabled)
	if err != nil {
		return nil, fmt.Errorf("key not found")
	}

	key.Enabled = enabled == 1
	key.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	_ = json.Unmarshal([]byte(permsJSON), &key.Permissions)
	if expiresAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *expiresAt)
		key.ExpiresAt = &t
	}

	if !key.Enabled {
		return nil, fmt.Errorf("key disabled")
	}
	if key.ExpiresAt != nil && time.Now().UTC().After(*key.ExpiresAt) {
		return nil, fmt.Errorf("key expired")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plainKey)); err != nil {
		return nil, fmt.Errorf("invalid key")
	}
	return &key, nil
}

// List returns all API keys (without hashes).
func (ks *KeyStore) List() []APIKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	rows, err := ks.db.Query(`SELECT id, tenant_id, name, key_prefix, permissions, created_at, expires_at, enabled
		FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var (
			key                  APIKey
			permsJSON, createdAt string
			expiresAt            *string
			enabled              int
		)
		if err := rows.Scan(&key.ID, &key.TenantID, &key.Name, &key.KeyPrefix,
			&permsJSON, &createdAt, &expiresAt, &enabled); err != nil {
			continue
		}
		key.Enabled = enabled == 1
		key.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		_ = json.Unmarshal([]byte(permsJSON), &key.Permissions)
		if expiresAt != nil {
			t, _ := time.Parse(time.RFC3339Nano, *expiresAt)
			key.ExpiresAt = &t
		}
		keys = append(keys, key)
	}
	return keys
}

// Revoke disables a key.
func (ks *KeyStore) Revoke(id string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	res, err := ks.db.Exec(ks.db.Rebind(`UPDATE api_keys SET enabled = 0 WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

// HasPermission checks whether a permission set grants perm.
func HasPermission(perms []Permission, perm Permission) bool {
	for _, p := range perms {
		if p == PermAdmin || p == perm {
			return true
		}
	}
	return false
}
