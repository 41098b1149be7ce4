// resolver.go turns a raw Authorization header into a Principal. Resolution
// order: environment admin tokens first (no storage round-trip), then the API
// key store by keyed hash, then the legacy unkeyed hash for pre-migration
// keys. Resolution is a pure lookup — side effects such as last-used tracking
// belong to the middleware layer.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/db/models"
)

// ErrAPIKeyExpired marks a 401 caused by a known key past its expiry, so
// callers can count it apart from unknown credentials.
var ErrAPIKeyExpired = errors.New("api key expired")

// KeyStore is the storage contract the resolver needs: a single read of an
// unrevoked key by hash.
type KeyStore interface {
	GetActiveAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// Resolver authenticates bearer tokens against env admin tokens and the API
// key store.
type Resolver struct {
	adminTokens []string
	keySecret   string
	keys        KeyStore
}

// NewResolver creates a Resolver. adminTokens come from environment
// configuration; keySecret is the HMAC secret used for all stored key hashes.
func NewResolver(adminTokens []string, keySecret string, keys KeyStore) *Resolver {
	return &Resolver{adminTokens: adminTokens, keySecret: keySecret, keys: keys}
}

// Authenticate resolves an Authorization header value to a Principal. The
// resolved API key (nil for env admins) is returned so the caller can record
// usage. A missing or unknown credential yields an unauthorized error,
// distinct from the forbidden errors produced by authorization checks.
func (r *Resolver) Authenticate(ctx context.Context, header string) (*Principal, *models.APIKey, error) {
	token := ExtractBearerToken(header)
	if token == "" {
		return nil, nil, apierror.Unauthorized("missing or malformed authorization header")
	}

	for _, admin := range r.adminTokens {
		if admin != "" && subtle.ConstantTimeCompare([]byte(token), []byte(admin)) == 1 {
			return &Principal{Kind: PrincipalEnvAdmin}, nil, nil
		}
	}

	key, err := r.keys.GetActiveAPIKeyByHash(ctx, HashAPIKey(token, r.keySecret))
	if err != nil {
		return nil, nil, err
	}
	if key == nil {
		// Pre-migration keys were stored with the unkeyed hash.
		key, err = r.keys.GetActiveAPIKeyByHash(ctx, LegacyHashAPIKey(token))
		if err != nil {
			return nil, nil, err
		}
	}
	if key == nil {
		return nil, nil, apierror.Unauthorized("invalid credentials")
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, nil, apierror.Unauthorized("API key expired").WithCause(ErrAPIKeyExpired)
	}

	return &Principal{
		Kind:     PrincipalDatabaseUser,
		UserID:   key.UserID,
		APIKeyID: key.ID,
	}, key, nil
}
