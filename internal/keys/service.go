// Package keys implements the API key lifecycle: issuance, revocation, reset,
// and the single-use reveal of a freshly issued key's plaintext.
//
// The reveal flow never stores the plaintext. Issuance signs
// {token_id, key_id, user_id, plaintext, exp} into an HS256 JWT and persists
// only a backing row {id, api_key_id, user_id, expires_at, used_at}.
// Redemption verifies the signature, checks the row, then performs an atomic
// conditional consume (UPDATE ... WHERE used_at IS NULL, rows-affected check)
// before returning the plaintext. The read-then-atomic-update order is
// mandatory: a plain read-then-write would let two concurrent redemptions
// both succeed.
package keys

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/auth"
	"github.com/contextlink/contextlink/internal/db/models"
)

// DefaultRevealTTL bounds how long a reveal token stays redeemable.
const DefaultRevealTTL = 15 * time.Minute

// KeyStore is the api_keys storage contract.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error)
	ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// TokenStore is the one_time_key_tokens storage contract.
type TokenStore interface {
	CreateToken(ctx context.Context, token *models.OneTimeKeyToken) error
	GetTokenByID(ctx context.Context, id string) (*models.OneTimeKeyToken, error)
	ConsumeToken(ctx context.Context, id string) (bool, error)
}

// Service drives the API key lifecycle.
type Service struct {
	keys      KeyStore
	tokens    TokenStore
	keySecret string // HMAC secret for stored key hashes
	jwtSecret []byte // signs one-time reveal tokens
	revealTTL time.Duration
}

// NewService creates a Service.
func NewService(keys KeyStore, tokens TokenStore, keySecret string, jwtSecret []byte, revealTTL time.Duration) *Service {
	if revealTTL <= 0 {
		revealTTL = DefaultRevealTTL
	}
	return &Service{
		keys:      keys,
		tokens:    tokens,
		keySecret: keySecret,
		jwtSecret: jwtSecret,
		revealTTL: revealTTL,
	}
}

// revealClaims is the signed payload of a one-time reveal token. The
// plaintext key travels only here, protected by the signature, never in
// storage.
type revealClaims struct {
	APIKeyID  string `json:"key_id"`
	Plaintext string `json:"key"`
	jwt.RegisteredClaims
}

// IssueAPIKey generates and stores a new key for a user and returns the
// stored row plus a signed one-time reveal token for its plaintext.
func (s *Service) IssueAPIKey(ctx context.Context, userID string, label *string, expiresAt *time.Time) (*models.APIKey, string, error) {
	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	key := &models.APIKey{
		UserID:    userID,
		KeyHash:   auth.HashAPIKey(plaintext, s.keySecret),
		KeyPrefix: auth.BuildAPIKeyPrefix(plaintext),
		Label:     label,
		ExpiresAt: expiresAt,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}

	revealToken, err := s.issueOneTimeKeyToken(ctx, key.ID, userID, plaintext)
	if err != nil {
		return nil, "", err
	}
	slog.Info("api key issued", "key_id", key.ID, "user_id", userID, "key", auth.MaskAPIKey(plaintext))
	return key, revealToken, nil
}

// issueOneTimeKeyToken persists the backing row and signs the claim.
func (s *Service) issueOneTimeKeyToken(ctx context.Context, apiKeyID, userID, plaintext string) (string, error) {
	expiry := time.Now().Add(s.revealTTL)
	row := &models.OneTimeKeyToken{
		ID:        uuid.New().String(),
		APIKeyID:  apiKeyID,
		UserID:    userID,
		ExpiresAt: expiry,
	}
	if err := s.tokens.CreateToken(ctx, row); err != nil {
		return "", err
	}

	claims := revealClaims{
		APIKeyID:  apiKeyID,
		Plaintext: plaintext,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        row.ID,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// ViewOneTimeAPIKey redeems a reveal token and returns the plaintext exactly
// once. Any redemption after the first, or after expiry, fails with a Gone
// error even when the initial read looked valid — the conditional consume is
// what serializes concurrent redemptions.
func (s *Service) ViewOneTimeAPIKey(ctx context.Context, signedToken string) (plaintext, apiKeyID string, err error) {
	claims := &revealClaims{}
	_, err = jwt.ParseWithClaims(signedToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", apierror.Gone("one-time key token is invalid or expired")
	}

	row, err := s.tokens.GetTokenByID(ctx, claims.ID)
	if err != nil {
		return "", "", err
	}
	if row == nil {
		return "", "", apierror.Gone("one-time key token not found")
	}
	if time.Now().After(row.ExpiresAt) {
		return "", "", apierror.Gone("one-time key token expired")
	}
	if row.UsedAt != nil {
		return "", "", apierror.Gone("one-time key token already used")
	}

	consumed, err := s.tokens.ConsumeToken(ctx, row.ID)
	if err != nil {
		return "", "", err
	}
	if !consumed {
		// Lost the race: a concurrent redemption consumed it between our read
		// and the conditional update.
		return "", "", apierror.Gone("one-time key token already used")
	}

	slog.Info("api key revealed", "key_id", claims.APIKeyID, "user_id", row.UserID, "key", auth.MaskAPIKey(claims.Plaintext))
	return claims.Plaintext, claims.APIKeyID, nil
}

// RevokeAPIKey revokes a key owned by userID. Revoking someone else's key is
// reported as not found to avoid leaking key existence across users.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil || key.UserID != userID {
		return nil, apierror.NotFound("API key not found")
	}
	if err := s.keys.RevokeAPIKey(ctx, keyID); err != nil {
		return nil, err
	}
	return key, nil
}

// ResetAPIKeys revokes all of a user's active keys and returns the count.
func (s *Service) ResetAPIKeys(ctx context.Context, userID string) (int64, error) {
	return s.keys.RevokeAllForUser(ctx, userID)
}

// ListAPIKeys returns the user's keys.
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return s.keys.ListAPIKeysByUser(ctx, userID)
}
