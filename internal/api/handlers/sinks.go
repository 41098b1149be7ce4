package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/authz"
	"github.com/contextlink/contextlink/internal/crypto"
	"github.com/contextlink/contextlink/internal/db/models"
	"github.com/contextlink/contextlink/internal/middleware"
)

// SinkStore is the sink repository contract the handlers use.
type SinkStore interface {
	CreateSink(ctx context.Context, sink *models.AuditSink) error
	UpdateSink(ctx context.Context, sink *models.AuditSink) error
	GetSinkByID(ctx context.Context, id string) (*models.AuditSink, error)
	ListSinksByWorkspace(ctx context.Context, workspaceID string) ([]*models.AuditSink, error)
}

// SinkHandlers manages workspace audit sinks. Admin tier only.
type SinkHandlers struct {
	sinks    SinkStore
	policy   *authz.Policy
	recorder *audit.Recorder
	cipher   *crypto.SecretCipher

	// allowLocal permits sink URLs resolving to local/private addresses.
	// Development only.
	allowLocal bool
}

// NewSinkHandlers creates a new SinkHandlers instance. cipher may be nil when
// no encryption passphrase is configured; sinks then cannot carry secrets.
func NewSinkHandlers(sinks SinkStore, policy *authz.Policy, recorder *audit.Recorder, cipher *crypto.SecretCipher, allowLocal bool) *SinkHandlers {
	return &SinkHandlers{
		sinks:      sinks,
		policy:     policy,
		recorder:   recorder,
		cipher:     cipher,
		allowLocal: allowLocal,
	}
}

// SinkRequest is the create/update payload for an audit sink.
type SinkRequest struct {
	Name        string              `json:"name" binding:"required"`
	EndpointURL string              `json:"endpoint_url" binding:"required"`
	Secret      *string             `json:"secret"`
	Enabled     *bool               `json:"enabled"`
	Filter      models.EventFilter  `json:"filter"`
	Retry       *models.RetryPolicy `json:"retry"`
	Reason      string              `json:"reason"`
}

// buildSink validates the request and fills a sink row. The endpoint URL must
// pass SSRF validation before anything is written.
func (h *SinkHandlers) buildSink(workspaceID string, req *SinkRequest) (*models.AuditSink, error) {
	normalized, err := audit.NormalizeAuditSinkURL(req.EndpointURL, h.allowLocal)
	if err != nil {
		return nil, err
	}

	sink := &models.AuditSink{
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Enabled:     true,
		EndpointURL: normalized,
		Filter:      req.Filter,
		Retry:       audit.DefaultRetryPolicy,
	}
	if req.Enabled != nil {
		sink.Enabled = *req.Enabled
	}
	if req.Retry != nil && req.Retry.MaxAttempts > 0 {
		sink.Retry = *req.Retry
		if len(sink.Retry.BackoffSec) == 0 {
			sink.Retry.BackoffSec = audit.DefaultRetryPolicy.BackoffSec
		}
	}

	if req.Secret != nil && *req.Secret != "" {
		if h.cipher == nil {
			return nil, apierror.Validation("sink secrets require an encryption passphrase to be configured")
		}
		encrypted, err := h.cipher.Encrypt(*req.Secret)
		if err != nil {
			return nil, err
		}
		sink.SecretEncrypted = &encrypted
	}
	return sink, nil
}

// CreateSinkHandler registers a new audit sink for a workspace.
// POST /api/v1/workspaces/:workspace_id/sinks
func (h *SinkHandlers) CreateSinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}
		workspaceID := c.Param("workspace_id")
		if err := h.policy.AssertWorkspaceAdmin(c.Request.Context(), principal, workspaceID); err != nil {
			apierror.Abort(c, err)
			return
		}

		var req SinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, apierror.Validation("invalid request body: "+err.Error()))
			return
		}

		sink, err := h.buildSink(workspaceID, &req)
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		if err := h.sinks.CreateSink(c.Request.Context(), sink); err != nil {
			apierror.Abort(c, err)
			return
		}

		entry := auditEntry(c, principal, workspaceID, "audit.sink.create")
		entry.TargetType = strPtr("audit_sink")
		entry.TargetID = &sink.ID
		entry.Reason = req.Reason
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusCreated, sink)
	}
}

// UpdateSinkHandler replaces a sink's configuration. The URL is re-validated
// on every update; a sink never drifts back into a rejected destination.
// PUT /api/v1/workspaces/:workspace_id/sinks/:id
func (h *SinkHandlers) UpdateSinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}
		workspaceID := c.Param("workspace_id")
		if err := h.policy.AssertWorkspaceAdmin(c.Request.Context(), principal, workspaceID); err != nil {
			apierror.Abort(c, err)
			return
		}

		existing, err := h.sinks.GetSinkByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		if existing == nil || existing.WorkspaceID != workspaceID {
			apierror.Abort(c, apierror.NotFound("audit sink not found"))
			return
		}

		var req SinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, apierror.Validation("invalid request body: "+err.Error()))
			return
		}

		sink, err := h.buildSink(workspaceID, &req)
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		sink.ID = existing.ID
		if sink.SecretEncrypted == nil {
			// Absent secret in the request means keep the stored one.
			sink.SecretEncrypted = existing.SecretEncrypted
		}
		if err := h.sinks.UpdateSink(c.Request.Context(), sink); err != nil {
			apierror.Abort(c, err)
			return
		}

		entry := auditEntry(c, principal, workspaceID, "audit.sink.update")
		entry.TargetType = strPtr("audit_sink")
		entry.TargetID = &sink.ID
		entry.Reason = req.Reason
		entry.ChangedFields = audit.DiffFields(sinkFieldMap(existing), sinkFieldMap(sink))
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusOK, sink)
	}
}

// sinkFieldMap projects the auditable fields of a sink for change diffing.
// The secret enters as its ciphertext, so a rotation registers as a changed
// key without the diff ever seeing a plaintext value.
func sinkFieldMap(s *models.AuditSink) map[string]any {
	m := map[string]any{
		"name":         s.Name,
		"enabled":      s.Enabled,
		"endpoint_url": s.EndpointURL,
		"filter":       s.Filter,
		"retry":        s.Retry,
	}
	if s.SecretEncrypted != nil {
		m["secret"] = *s.SecretEncrypted
	}
	return m
}

// ListSinksHandler lists a workspace's sinks. Secrets are never serialized.
// GET /api/v1/workspaces/:workspace_id/sinks
func (h *SinkHandlers) ListSinksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}
		workspaceID := c.Param("workspace_id")
		if err := h.policy.AssertWorkspaceAdmin(c.Request.Context(), principal, workspaceID); err != nil {
			apierror.Abort(c, err)
			return
		}

		sinks, err := h.sinks.ListSinksByWorkspace(c.Request.Context(), workspaceID)
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sinks": sinks})
	}
}
