// api_key.go defines the APIKey and OneTimeKeyToken models. Only the keyed
// hash of a key is stored, never the plaintext; a revoked key authenticates
// nothing thereafter.
package models

import "time"

// APIKey represents an issued credential owned by exactly one user. Rows are
// immutable after creation except for revoked_at and last_used_at.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	KeyHash    string     `db:"key_hash" json:"-"`
	KeyPrefix  string     `db:"key_prefix" json:"key_prefix"` // display prefix, e.g. "clsk_live_****7890"
	Label      *string    `db:"label" json:"label,omitempty"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// OneTimeKeyToken is the backing row for a single-use reveal of a freshly
// issued key's plaintext. The plaintext itself travels only inside the signed
// claim, never in this row. used_at transitions from null to set exactly once,
// enforced by a conditional UPDATE at the storage layer.
type OneTimeKeyToken struct {
	ID        string     `db:"id" json:"id"`
	APIKeyID  string     `db:"api_key_id" json:"api_key_id"`
	UserID    string     `db:"user_id" json:"user_id"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
