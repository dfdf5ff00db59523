// Package store is the persistence adapter for keys, tenants, admin
// accounts, session snapshots, and audit events.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/third-eye/thirdeye/pkg/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("record not found")

// Store executes all SQL against the shared connection pool.
type Store struct {
	db *sql.DB
}

// New creates a Store over the given pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- API keys ---

// FetchKeyByHash resolves a key by its hashed secret.
func (s *Store) FetchKeyByHash(ctx context.Context, hashedSecret string) (models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hashed_secret, role, COALESCE(tenant_id, ''), COALESCE(display_name, ''),
		       limits_json, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys WHERE hashed_secret = $1`, hashedSecret)
	return scanKey(row)
}

// FetchKey resolves a key by id.
func (s *Store) FetchKey(ctx context.Context, keyID string) (models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hashed_secret, role, COALESCE(tenant_id, ''), COALESCE(display_name, ''),
		       limits_json, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys WHERE id = $1`, keyID)
	return scanKey(row)
}

// UpsertKey inserts or replaces a key row.
func (s *Store) UpsertKey(ctx context.Context, key models.APIKey) error {
	limitsJSON, err := json.Marshal(key.Limits)
	if err != nil {
		return fmt.Errorf("failed to marshal key limits: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hashed_secret, role, tenant_id, display_name, limits_json,
		                      created_at, expires_at, revoked_at, last_used_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			hashed_secret = EXCLUDED.hashed_secret,
			role = EXCLUDED.role,
			tenant_id = EXCLUDED.tenant_id,
			display_name = EXCLUDED.display_name,
			limits_json = EXCLUDED.limits_json,
			expires_at = EXCLUDED.expires_at,
			revoked_at = EXCLUDED.revoked_at`,
		key.ID, key.HashedSecret, key.Role, key.TenantID, key.DisplayName, limitsJSON,
		key.CreatedAt, key.ExpiresAt, key.RevokedAt, key.LastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert api key %s: %w", key.ID, err)
	}
	return nil
}

// RevokeKey marks a key revoked. Missing keys return ErrNotFound.
func (s *Store) RevokeKey(ctx context.Context, keyID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, keyID, at)
	if err != nil {
		return fmt.Errorf("failed to revoke api key %s: %w", keyID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchKey stamps a key's last-used time.
func (s *Store) TouchKey(ctx context.Context, keyID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, keyID, at)
	return err
}

// ListKeys returns all keys, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hashed_secret, role, COALESCE(tenant_id, ''), COALESCE(display_name, ''),
		       limits_json, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (models.APIKey, error) {
	var key models.APIKey
	var limitsJSON []byte
	err := row.Scan(&key.ID, &key.HashedSecret, &key.Role, &key.TenantID, &key.DisplayName,
		&limitsJSON, &key.CreatedAt, &key.ExpiresAt, &key.RevokedAt, &key.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.APIKey{}, ErrNotFound
	}
	if err != nil {
		return models.APIKey{}, fmt.Errorf("failed to scan api key: %w", err)
	}
	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &key.Limits); err != nil {
			return models.APIKey{}, fmt.Errorf("failed to unmarshal key limits: %w", err)
		}
	}
	return key, nil
}

// --- Tenants ---

// UpsertTenant inserts or updates a tenant.
func (s *Store) UpsertTenant(ctx context.Context, tenant models.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, quota_limit, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, quota_limit = EXCLUDED.quota_limit`,
		tenant.ID, tenant.Name, tenant.QuotaLimit, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", tenant.ID, err)
	}
	return nil
}

// FetchTenant returns a tenant by id.
func (s *Store) FetchTenant(ctx context.Context, tenantID string) (models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(name, ''), quota_limit, created_at FROM tenants WHERE id = $1`,
		tenantID).Scan(&t.ID, &t.Name, &t.QuotaLimit, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tenant{}, ErrNotFound
	}
	if err != nil {
		return models.Tenant{}, fmt.Errorf("failed to fetch tenant %s: %w", tenantID, err)
	}
	return t, nil
}

// ListTenants returns all tenants.
func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(name, ''), quota_limit, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.QuotaLimit, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// --- Admin accounts ---

// FetchAdminAccount returns the account for an email.
func (s *Store) FetchAdminAccount(ctx context.Context, email string) (models.AdminAccount, error) {
	var a models.AdminAccount
	err := s.db.QueryRowContext(ctx,
		`SELECT email, password_hash, created_at FROM admin_accounts WHERE email = $1`,
		email).Scan(&a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AdminAccount{}, ErrNotFound
	}
	if err != nil {
		return models.AdminAccount{}, fmt.Errorf("failed to fetch admin account: %w", err)
	}
	return a, nil
}

// UpsertAdminAccount inserts or updates an admin credential.
func (s *Store) UpsertAdminAccount(ctx context.Context, account models.AdminAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_accounts (email, password_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		account.Email, account.PasswordHash, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert admin account: %w", err)
	}
	return nil
}

// --- Session snapshots ---

// SaveSession persists a session snapshot.
func (s *Store) SaveSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, lang, budget_tokens, created_at, last_activity, deadline)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			user_id = EXCLUDED.user_id,
			lang = EXCLUDED.lang,
			budget_tokens = EXCLUDED.budget_tokens,
			last_activity = EXCLUDED.last_activity,
			deadline = EXCLUDED.deadline`,
		sess.ID, sess.TenantID, sess.UserID, sess.Lang, sess.BudgetTokens,
		sess.CreatedAt, sess.LastActivity, sess.Deadline)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// DeleteSession removes a persisted session snapshot.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	return err
}

// DeleteStaleSessions removes snapshots inactive since before cutoff and
// returns the number removed.
func (s *Store) DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// --- Audit events ---

// RecordAudit appends one request outcome.
func (s *Store) RecordAudit(ctx context.Context, event models.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (ts, trace_id, key_id, tenant_id, session_id, route, code, status)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)`,
		event.TS, event.TraceID, event.KeyID, event.TenantID, event.SessionID,
		event.Route, event.Code, event.Status)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent events, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, COALESCE(trace_id, ''), COALESCE(key_id, ''), COALESCE(tenant_id, ''),
		       COALESCE(session_id, ''), route, code, status
		FROM audit_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.TraceID, &e.KeyID, &e.TenantID,
			&e.SessionID, &e.Route, &e.Code, &e.Status); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
