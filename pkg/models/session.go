// Package models defines the shared domain types: sessions, work envelopes,
// eye results, pipeline events, API keys and tenants.
package models

import "time"

// Lang is the preferred response language for a session.
type Lang string

const (
	LangAuto Lang = "auto"
	LangEN   Lang = "en"
	LangAR   Lang = "ar"
)

// Session represents one logical conversation bound to a connection.
// Instances handed out by the session store are value copies; all mutation
// goes through the store.
type Session struct {
	ID           string    `json:"session_id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Lang         Lang      `json:"lang"`
	BudgetTokens int       `json:"budget_tokens"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Deadline     time.Time `json:"deadline"`
}

// Expired reports whether the session is past its TTL deadline.
func (s Session) Expired(now time.Time) bool {
	return s.Deadline.Before(now)
}

// SessionDiff carries the mutable session fields for a single-writer update.
// Nil fields are left unchanged.
type SessionDiff struct {
	TenantID     *string
	UserID       *string
	Lang         *Lang
	BudgetTokens *int
}
