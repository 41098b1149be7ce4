package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/authz"
	"github.com/contextlink/contextlink/internal/keys"
	"github.com/contextlink/contextlink/internal/middleware"
)

// APIKeyHandlers handles API key lifecycle endpoints.
type APIKeyHandlers struct {
	svc      *keys.Service
	policy   *authz.Policy
	recorder *audit.Recorder
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance.
func NewAPIKeyHandlers(svc *keys.Service, policy *authz.Policy, recorder *audit.Recorder) *APIKeyHandlers {
	return &APIKeyHandlers{svc: svc, policy: policy, recorder: recorder}
}

// CreateAPIKeyRequest is the request to issue a new API key. WorkspaceID
// scopes the audit trail of the issuance, not the key itself; keys belong to
// users. UserID may only be set by env admins issuing on someone's behalf.
type CreateAPIKeyRequest struct {
	WorkspaceID string  `json:"workspace_id" binding:"required"`
	UserID      *string `json:"user_id"`
	Label       *string `json:"label"`
	ExpiresAt   *string `json:"expires_at"` // RFC3339
	Reason      string  `json:"reason"`
}

// CreateAPIKeyHandler issues a new API key. The plaintext is never returned
// directly; the response carries a one-time reveal token instead.
// POST /api/v1/apikeys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}

		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, apierror.Validation("invalid request body: "+err.Error()))
			return
		}

		if err := h.policy.AssertWorkspaceAccess(c.Request.Context(), principal, req.WorkspaceID); err != nil {
			apierror.Abort(c, err)
			return
		}

		ownerID := principal.UserID
		if req.UserID != nil && *req.UserID != "" {
			if !principal.BypassesWorkspaceChecks() {
				apierror.Abort(c, apierror.Forbidden("access denied"))
				return
			}
			ownerID = *req.UserID
		}
		if ownerID == "" {
			apierror.Abort(c, apierror.Validation("user_id is required when issuing as an env admin"))
			return
		}

		var expiresAt *time.Time
		if req.ExpiresAt != nil && *req.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				apierror.Abort(c, apierror.Validation("expires_at must be RFC3339"))
				return
			}
			expiresAt = &t
		}

		key, revealToken, err := h.svc.IssueAPIKey(c.Request.Context(), ownerID, req.Label, expiresAt)
		if err != nil {
			apierror.Abort(c, err)
			return
		}

		entry := auditEntry(c, principal, req.WorkspaceID, "api_key.create")
		entry.TargetType = strPtr("api_key")
		entry.TargetID = &key.ID
		entry.Reason = req.Reason
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":           key.ID,
			"user_id":      key.UserID,
			"key_prefix":   key.KeyPrefix,
			"label":        key.Label,
			"expires_at":   key.ExpiresAt,
			"created_at":   key.CreatedAt,
			"reveal_token": revealToken,
		})
	}
}

// RevealAPIKeyRequest redeems a one-time reveal token.
type RevealAPIKeyRequest struct {
	Token string `json:"token" binding:"required"`
}

// RevealAPIKeyHandler redeems a one-time reveal token for the key's
// plaintext. Unauthenticated: the signed token is the credential. Exactly one
// redemption succeeds; every later attempt gets 410.
// POST /api/v1/apikeys/reveal
func (h *APIKeyHandlers) RevealAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RevealAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, apierror.Validation("invalid request body: "+err.Error()))
			return
		}

		plaintext, apiKeyID, err := h.svc.ViewOneTimeAPIKey(c.Request.Context(), req.Token)
		if err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"api_key_id": apiKeyID,
			"key":        plaintext,
		})
	}
}

// ListAPIKeysHandler lists the caller's own keys. Plaintext and hashes are
// never included.
// GET /api/v1/apikeys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}
		if principal.UserID == "" {
			apierror.Abort(c, apierror.Validation("env admin principals own no API keys"))
			return
		}

		list, err := h.svc.ListAPIKeys(c.Request.Context(), principal.UserID)
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"api_keys": list})
	}
}

// RevokeAPIKeyHandler revokes one of the caller's keys. workspace_id scopes
// the audit record and is required.
// DELETE /api/v1/apikeys/:id?workspace_id=...
func (h *APIKeyHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}
		workspaceID := c.Query("workspace_id")
		if workspaceID == "" {
			apierror.Abort(c, apierror.Validation("workspace_id query parameter is required"))
			return
		}
		if err := h.policy.AssertWorkspaceAccess(c.Request.Context(), principal, workspaceID); err != nil {
			apierror.Abort(c, err)
			return
		}

		keyID := c.Param("id")
		key, err := h.svc.RevokeAPIKey(c.Request.Context(), principal.UserID, keyID)
		if err != nil {
			apierror.Abort(c, err)
			return
		}

		entry := auditEntry(c, principal, workspaceID, "api_key.revoke")
		entry.TargetType = strPtr("api_key")
		entry.TargetID = &key.ID
		entry.Reason = c.Query("reason")
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"revoked": true, "id": key.ID})
	}
}

// ResetAPIKeysHandler revokes every active key the caller owns.
// POST /api/v1/apikeys/reset?workspace_id=...
func (h *APIKeyHandlers) ResetAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}
		if principal.UserID == "" {
			apierror.Abort(c, apierror.Validation("env admin principals own no API keys"))
			return
		}
		workspaceID := c.Query("workspace_id")
		if workspaceID == "" {
			apierror.Abort(c, apierror.Validation("workspace_id query parameter is required"))
			return
		}
		if err := h.policy.AssertWorkspaceAccess(c.Request.Context(), principal, workspaceID); err != nil {
			apierror.Abort(c, err)
			return
		}

		revoked, err := h.svc.ResetAPIKeys(c.Request.Context(), principal.UserID)
		if err != nil {
			apierror.Abort(c, err)
			return
		}

		entry := auditEntry(c, principal, workspaceID, "api_key.reset")
		entry.Reason = c.Query("reason")
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"revoked_count": revoked})
	}
}
