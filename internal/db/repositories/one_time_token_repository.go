// one_time_token_repository.go persists the backing rows for one-time key
// reveal tokens. Consume is the one operation in the system requiring
// cross-process atomicity: the UPDATE's used_at IS NULL guard serializes
// concurrent redemptions at the store, not in application logic.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contextlink/contextlink/internal/db/models"
)

// OneTimeTokenRepository handles one_time_key_tokens rows.
type OneTimeTokenRepository struct {
	db *sqlx.DB
}

// NewOneTimeTokenRepository creates a new OneTimeTokenRepository.
func NewOneTimeTokenRepository(db *sqlx.DB) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{db: db}
}

// CreateToken inserts a new token row. The caller assigns the ID because it
// must match the token_id claim inside the signed reveal token.
func (r *OneTimeTokenRepository) CreateToken(ctx context.Context, token *models.OneTimeKeyToken) error {
	token.CreatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO one_time_key_tokens (id, api_key_id, user_id, expires_at, created_at)
		VALUES (:id, :api_key_id, :user_id, :expires_at, :created_at)
	`, token)
	return err
}

// GetTokenByID retrieves a token row.
func (r *OneTimeTokenRepository) GetTokenByID(ctx context.Context, id string) (*models.OneTimeKeyToken, error) {
	var token models.OneTimeKeyToken
	err := r.db.GetContext(ctx, &token, `
		SELECT id, api_key_id, user_id, expires_at, used_at, created_at
		FROM one_time_key_tokens
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// ConsumeToken marks a token used, succeeding only if used_at is still null.
// Returns false when a concurrent or prior redemption already consumed it.
func (r *OneTimeTokenRepository) ConsumeToken(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE one_time_key_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL
	`, id, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DeleteExpiredBefore purges expired token rows older than cutoff. Called by
// the background sweeper; consumed rows are kept until expiry so late
// redemption attempts still get a precise "already used" error.
func (r *OneTimeTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM one_time_key_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
