// Package api wires together the HTTP routes of the trust core.
//
// Route grouping philosophy:
//   - /health and /version are public.
//   - /api/v1/apikeys/reveal is public: the signed one-time token in the body
//     is the credential, and a caller who just created a key may not have
//     configured it anywhere yet. It carries the strict auth rate limit.
//   - Everything else under /api/v1 requires authentication. Authorization
//     (workspace role, project membership) lives in the handlers, because the
//     required check depends on the operation, not the route shape.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/contextlink/contextlink/internal/api/handlers"
	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/auth"
	"github.com/contextlink/contextlink/internal/authz"
	"github.com/contextlink/contextlink/internal/config"
	"github.com/contextlink/contextlink/internal/crypto"
	"github.com/contextlink/contextlink/internal/db/repositories"
	"github.com/contextlink/contextlink/internal/detection"
	"github.com/contextlink/contextlink/internal/jobs"
	"github.com/contextlink/contextlink/internal/keys"
	"github.com/contextlink/contextlink/internal/middleware"
	"github.com/contextlink/contextlink/internal/safego"
)

// BackgroundServices holds background loops that must be stopped during
// graceful shutdown, after the HTTP server has drained in-flight requests.
type BackgroundServices struct {
	limiters     *middleware.RateLimiterRegistry
	tokenSweeper *jobs.TokenSweeper
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.tokenSweeper != nil {
		bg.tokenSweeper.Stop()
	}
	if bg.limiters != nil {
		bg.limiters.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and starts the background
// services it depends on.
func NewRouter(cfg *config.Config, conn *sqlx.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Repositories
	apiKeyRepo := repositories.NewAPIKeyRepository(conn)
	tokenRepo := repositories.NewOneTimeTokenRepository(conn)
	memberRepo := repositories.NewMembershipRepository(conn)
	auditRepo := repositories.NewAuditRepository(conn)
	sinkRepo := repositories.NewSinkRepository(conn)
	ruleRepo := repositories.NewDetectionRuleRepository(conn)

	// Credential resolution and authorization
	resolver := auth.NewResolver(cfg.Auth.AdminTokens, cfg.Auth.APIKeySecret, apiKeyRepo)
	policy := authz.NewPolicy(memberRepo)

	// Sink secret cipher. Optional: without a passphrase, sinks work but
	// cannot carry signing secrets.
	var cipher *crypto.SecretCipher
	if cfg.Security.EncryptionPassphrase != "" {
		var err error
		cipher, err = crypto.DeriveSecretCipher(cfg.Security.EncryptionPassphrase, []byte(cfg.Security.EncryptionSalt), 0)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize secret cipher: %w", err)
		}
	}

	// Audit pipeline and detection engine. The recorder and the engine
	// reference each other, so the observer is registered after construction.
	var secrets audit.SecretDecrypter
	if cipher != nil {
		secrets = cipher
	}
	deliverer := audit.NewDeliverer(cfg.Audit.DeliveryTimeout, secrets)
	recorder := audit.NewRecorder(auditRepo, sinkRepo, deliverer)
	engine := detection.NewEngine(ruleRepo, auditRepo, recorder, sinkRepo, deliverer)
	recorder.SetObserver(engine)

	keySvc := keys.NewService(apiKeyRepo, tokenRepo, cfg.Auth.APIKeySecret,
		[]byte(cfg.Auth.OneTimeTokenSecret), cfg.Auth.OneTimeTokenTTL)

	// Rate limiter store: in-process by default, Redis when configured so
	// replicas share windows.
	var store middleware.BucketStore
	if cfg.RateLimit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
		})
		store = middleware.NewRedisStore(client, "ratelimit")
		slog.Info("rate limiter using redis store", "addr", cfg.RateLimit.RedisAddr)
	} else {
		store = middleware.NewMemoryStore()
	}
	limiters := middleware.NewRateLimiterRegistry(store, cfg.RateLimit.SweepInterval)
	limiters.Start()

	// Background jobs
	tokenSweeper := jobs.NewTokenSweeper(tokenRepo, cfg.Audit.TokenSweepInterval)
	safego.Go(func() {
		tokenSweeper.Start(context.Background())
	})

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())

	router.GET("/health", healthCheckHandler(conn))
	router.GET("/version", versionHandler())

	// Handlers
	apiKeyHandlers := handlers.NewAPIKeyHandlers(keySvc, policy, recorder)
	sinkHandlers := handlers.NewSinkHandlers(sinkRepo, policy, recorder, cipher, cfg.Security.AllowLocalSinks)
	ruleHandlers := handlers.NewRuleHandlers(ruleRepo, policy, recorder)
	auditHandlers := handlers.NewAuditHandlers(auditRepo, policy, recorder)

	defaultLimit := func() gin.HandlerFunc {
		return limiters.Middleware("default", cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
	}
	authLimit := func() gin.HandlerFunc {
		return limiters.Middleware("auth", cfg.RateLimit.AuthRequestsPerWindow, cfg.RateLimit.AuthWindow)
	}

	apiV1 := router.Group("/api/v1")
	{
		// One-time key reveal: public, strictly rate limited.
		revealGroup := apiV1.Group("/apikeys")
		if cfg.RateLimit.Enabled {
			revealGroup.Use(authLimit())
		}
		revealGroup.POST("/reveal", apiKeyHandlers.RevealAPIKeyHandler())

		// Authenticated endpoints. The limiter runs before authentication so
		// unauthenticated floods cannot exhaust credential lookups.
		authenticated := apiV1.Group("")
		if cfg.RateLimit.Enabled {
			authenticated.Use(defaultLimit())
		}
		authenticated.Use(middleware.AuthMiddleware(resolver, apiKeyRepo))
		{
			keysGroup := authenticated.Group("/apikeys")
			{
				keysGroup.GET("", apiKeyHandlers.ListAPIKeysHandler())
				keysGroup.POST("", apiKeyHandlers.CreateAPIKeyHandler())
				keysGroup.DELETE("/:id", apiKeyHandlers.RevokeAPIKeyHandler())
				keysGroup.POST("/reset", apiKeyHandlers.ResetAPIKeysHandler())
			}

			wsGroup := authenticated.Group("/workspaces/:workspace_id")
			{
				wsGroup.GET("/audit-events", auditHandlers.ListEventsHandler())
				wsGroup.GET("/raw-events", auditHandlers.RawEventsHandler())

				wsGroup.GET("/sinks", sinkHandlers.ListSinksHandler())
				wsGroup.POST("/sinks", sinkHandlers.CreateSinkHandler())
				wsGroup.PUT("/sinks/:id", sinkHandlers.UpdateSinkHandler())

				wsGroup.GET("/detection-rules", ruleHandlers.ListRulesHandler())
				wsGroup.PUT("/detection-rules", ruleHandlers.UpsertRuleHandler())
			}
		}
	}

	bg := &BackgroundServices{
		limiters:     limiters,
		tokenSweeper: tokenSweeper,
	}
	return router, bg, nil
}

// healthCheckHandler reports service health including database connectivity.
func healthCheckHandler(conn *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := conn.PingContext(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(200, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler reports the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured record per request. Text vs JSON
// output follows the global handler configured in telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
		)
	}
}
