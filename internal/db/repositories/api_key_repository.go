// Package repositories implements the storage contract of the trust core on
// PostgreSQL via sqlx. Repositories return (nil, nil) for sql.ErrNoRows on
// single-row lookups so callers distinguish "absent" from "failed" without
// inspecting driver errors.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contextlink/contextlink/internal/db/models"
)

// APIKeyRepository handles api_keys rows.
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository.
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey inserts a new key row, assigning ID and CreatedAt.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	key.ID = uuid.New().String()
	key.CreatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, label, expires_at, created_at)
		VALUES (:id, :user_id, :key_hash, :key_prefix, :label, :expires_at, :created_at)
	`, key)
	return err
}

// GetActiveAPIKeyByHash looks up an unrevoked key by its stored hash. Used on
// the authentication path; expiry is checked by the resolver, not here, so the
// caller can report "expired" distinctly from "unknown".
func (r *APIKeyRepository) GetActiveAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.GetContext(ctx, &key, `
		SELECT id, user_id, key_hash, key_prefix, label, expires_at, revoked_at, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = $1 AND revoked_at IS NULL
	`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKeyByID retrieves a key by ID, revoked or not.
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.GetContext(ctx, &key, `
		SELECT id, user_id, key_hash, key_prefix, label, expires_at, revoked_at, last_used_at, created_at
		FROM api_keys
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeysByUser returns all of a user's keys, newest first.
func (r *APIKeyRepository) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	keys := make([]*models.APIKey, 0)
	err := r.db.SelectContext(ctx, &keys, `
		SELECT id, user_id, key_hash, key_prefix, label, expires_at, revoked_at, last_used_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	return keys, err
}

// UpdateLastUsed stamps last_used_at. Best-effort; callers fire it async.
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, time.Now())
	return err
}

// RevokeAPIKey sets revoked_at if not already set. Rows are never deleted —
// the revocation timestamp is part of the audit trail.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, id, time.Now())
	return err
}

// RevokeAllForUser revokes every active key of a user in one transaction and
// returns how many were revoked.
func (r *APIKeyRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, time.Now())
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}
