package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/authz"
	"github.com/contextlink/contextlink/internal/db/models"
	"github.com/contextlink/contextlink/internal/middleware"
)

// EventStore is the audit event repository contract the read handlers use.
type EventStore interface {
	ListEventsByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]*models.AuditEvent, error)
}

// AuditHandlers exposes the audit trail itself. Reading the trail is a
// privileged operation and is recorded in it.
type AuditHandlers struct {
	events   EventStore
	policy   *authz.Policy
	recorder *audit.Recorder
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(events EventStore, policy *authz.Policy, recorder *audit.Recorder) *AuditHandlers {
	return &AuditHandlers{events: events, policy: policy, recorder: recorder}
}

// ListEventsHandler lists a workspace's audit events, newest first. Admin
// tier only; the read is itself recorded as "audit.read".
// GET /api/v1/workspaces/:workspace_id/audit-events?limit=&offset=
func (h *AuditHandlers) ListEventsHandler() gin.HandlerFunc {
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

		limit := parseIntQuery(c, "limit", 100)
		if limit < 1 || limit > 1000 {
			limit = 100
		}
		offset := parseIntQuery(c, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		events, err := h.events.ListEventsByWorkspace(c.Request.Context(), workspaceID, limit, offset)
		if err != nil {
			apierror.Abort(c, err)
			return
		}

		entry := auditEntry(c, principal, workspaceID, "audit.read")
		entry.Reason = c.Query("reason")
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// RawEventsHandler exposes the unredacted event stream, including actor IPs.
// Raw exposure is gated stricter than normal reads: with a project_id the
// caller needs project access, without one an admin-tier workspace role.
// GET /api/v1/workspaces/:workspace_id/raw-events?project_id=&limit=
func (h *AuditHandlers) RawEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			apierror.Abort(c, apierror.Unauthorized("not authenticated"))
			return
		}
		workspaceID := c.Param("workspace_id")

		var projectID *string
		if p := c.Query("project_id"); p != "" {
			projectID = &p
		}
		if err := h.policy.AssertRawAccess(c.Request.Context(), principal, workspaceID, projectID); err != nil {
			apierror.Abort(c, err)
			return
		}

		limit := parseIntQuery(c, "limit", 100)
		if limit < 1 || limit > 1000 {
			limit = 100
		}

		events, err := h.events.ListEventsByWorkspace(c.Request.Context(), workspaceID, limit, 0)
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		if projectID != nil {
			filtered := events[:0]
			for _, e := range events {
				if e.ProjectID != nil && *e.ProjectID == *projectID {
					filtered = append(filtered, e)
				}
			}
			events = filtered
		}

		entry := auditEntry(c, principal, workspaceID, "raw.view")
		entry.ProjectID = projectID
		entry.Reason = c.Query("reason")
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
