// Package middleware provides the Gin HTTP middleware of the trust core:
// security headers, request IDs, metrics, rate limiting, and authentication.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → Handler
//
// Security headers run first so they appear on all responses including
// errors. Rate limiting runs before authentication to block brute-force
// attempts before any storage work. Authentication populates the principal;
// authorization is not middleware — each handler calls the policy engine with
// its exact workspace/project scope.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/auth"
	"github.com/contextlink/contextlink/internal/safego"
	"github.com/contextlink/contextlink/internal/telemetry"
)

// PrincipalKey is the gin.Context key holding the authenticated *auth.Principal.
const PrincipalKey = "principal"

// LastUsedUpdater stamps an API key's last-used time. Satisfied by
// repositories.APIKeyRepository.
type LastUsedUpdater interface {
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// AuthMiddleware authenticates the bearer token and stores the resulting
// Principal in the context. Authentication failure is a 401, distinct from
// the 403s produced by authorization checks inside handlers.
func AuthMiddleware(resolver *auth.Resolver, lastUsed LastUsedUpdater) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, apiKey, err := resolver.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			kind := "invalid_credentials"
			switch {
			case c.GetHeader("Authorization") == "":
				kind = "missing_header"
			case errors.Is(err, auth.ErrAPIKeyExpired):
				kind = "expired"
			}
			telemetry.AuthFailuresTotal.WithLabelValues(kind).Inc()
			apierror.Abort(c, err)
			return
		}

		if apiKey != nil && lastUsed != nil {
			// Fire-and-forget: last-used tracking is best-effort and must not
			// add a storage write to the request path. The timeout prevents
			// leaked goroutines when the store is unreachable.
			keyID := apiKey.ID
			safego.Go(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = lastUsed.UpdateLastUsed(ctx, keyID)
			})
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// GetPrincipal retrieves the authenticated principal set by AuthMiddleware.
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	val, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := val.(*auth.Principal)
	return principal, ok
}
