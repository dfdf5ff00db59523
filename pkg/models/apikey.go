package models

import "time"

// Role of an API key.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleConsumer Role = "consumer"
)

// KeyLimits is the per-key limits object stored with each API key.
type KeyLimits struct {
	PerMinute        int      `json:"per_minute,omitempty"`
	PerRequestBudget int      `json:"per_request_budget,omitempty"`
	TotalBudget      *int     `json:"total_budget,omitempty"`
	Branches         []string `json:"branches,omitempty"`
	Tools            []string `json:"tools,omitempty"`
	Tenants          []string `json:"tenants,omitempty"`
}

// APIKey is the stored form of a key. HashedSecret is the hex SHA-256 of
// the raw secret (high-entropy random keys need no salt, unlike the bcrypt
// admin passwords) and is never serialized outward.
type APIKey struct {
	ID           string     `json:"id"`
	HashedSecret string     `json:"-"`
	Role         Role       `json:"role"`
	TenantID     string     `json:"tenant_id,omitempty"`
	DisplayName  string     `json:"display_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	Limits       KeyLimits  `json:"limits"`
}

// Revoked reports whether the key carries a revocation marker.
func (k APIKey) Revoked() bool { return k.RevokedAt != nil }

// Expired reports whether the key is past its absolute expiry.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// Tenant is a billed party with a request quota.
type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	QuotaLimit int       `json:"quota_limit"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditEvent is one request outcome recorded by the persistence adapter.
type AuditEvent struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts"`
	TraceID   string    `json:"trace_id,omitempty"`
	KeyID     string    `json:"key_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Route     string    `json:"route"`
	Code      string    `json:"code"`
	Status    int       `json:"status"`
}

// AdminAccount is an email/password credential pair for the control plane.
// PasswordHash is a bcrypt hash.
type AdminAccount struct {
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
