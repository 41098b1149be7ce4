package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/db/models"
)

// fakeKeyStore maps hash → key row.
type fakeKeyStore struct {
	byHash map[string]*models.APIKey
}

func (s *fakeKeyStore) GetActiveAPIKeyByHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	return s.byHash[keyHash], nil
}

func TestAuthenticateEnvAdmin(t *testing.T) {
	r := NewResolver([]string{"admin-token"}, "secret", &fakeKeyStore{byHash: map[string]*models.APIKey{}})

	principal, key, err := r.Authenticate(context.Background(), "Bearer admin-token")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Kind != PrincipalEnvAdmin {
		t.Errorf("Kind = %q, want env admin", principal.Kind)
	}
	if !principal.BypassesWorkspaceChecks() {
		t.Error("env admin must bypass workspace checks")
	}
	if key != nil {
		t.Error("env admin resolution must not return an API key row")
	}
}

func TestAuthenticateDatabaseUser(t *testing.T) {
	const plaintext = "clsk_live_deadbeef"
	store := &fakeKeyStore{byHash: map[string]*models.APIKey{
		HashAPIKey(plaintext, "secret"): {ID: "key-1", UserID: "user-1"},
	}}
	r := NewResolver(nil, "secret", store)

	principal, key, err := r.Authenticate(context.Background(), "Bearer "+plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Kind != PrincipalDatabaseUser || principal.UserID != "user-1" || principal.APIKeyID != "key-1" {
		t.Errorf("unexpected principal: %+v", principal)
	}
	if key == nil || key.ID != "key-1" {
		t.Errorf("unexpected key row: %+v", key)
	}
}

func TestAuthenticateLegacyHashFallback(t *testing.T) {
	const plaintext = "clsk_live_oldkey"
	store := &fakeKeyStore{byHash: map[string]*models.APIKey{
		LegacyHashAPIKey(plaintext): {ID: "key-legacy", UserID: "user-1"},
	}}
	r := NewResolver(nil, "secret", store)

	principal, _, err := r.Authenticate(context.Background(), "Bearer "+plaintext)
	if err != nil {
		t.Fatalf("Authenticate via legacy hash: %v", err)
	}
	if principal.APIKeyID != "key-legacy" {
		t.Errorf("APIKeyID = %q, want key-legacy", principal.APIKeyID)
	}
}

func TestAuthenticateExpiredKey(t *testing.T) {
	const plaintext = "clsk_live_expired"
	past := time.Now().Add(-time.Hour)
	store := &fakeKeyStore{byHash: map[string]*models.APIKey{
		HashAPIKey(plaintext, "secret"): {ID: "key-1", UserID: "user-1", ExpiresAt: &past},
	}}
	r := NewResolver(nil, "secret", store)

	_, _, err := r.Authenticate(context.Background(), "Bearer "+plaintext)
	if !apierror.IsCode(err, apierror.CodeUnauthorized) {
		t.Fatalf("expired key: got %v, want unauthorized", err)
	}
	if !errors.Is(err, ErrAPIKeyExpired) {
		t.Errorf("expired key error %v does not wrap ErrAPIKeyExpired", err)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	r := NewResolver([]string{"admin-token"}, "secret", &fakeKeyStore{byHash: map[string]*models.APIKey{}})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic admin-token"},
		{"unknown key", "Bearer clsk_live_nope"},
		{"empty bearer", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Authenticate(context.Background(), tt.header)
			if !apierror.IsCode(err, apierror.CodeUnauthorized) {
				t.Errorf("got %v, want unauthorized", err)
			}
		})
	}
}
