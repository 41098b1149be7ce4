// Package handlers implements the HTTP handlers of the trust core API. Every
// privileged handler follows the same order: the rate limiter and the auth
// middleware have already run, the handler authorizes through the policy
// engine, performs the operation, and records an audit event for it.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/auth"
)

// auditEntry pre-fills the actor and network fields of an audit entry from
// the request. Env admins have no user row, so ActorUserID stays nil for them.
func auditEntry(c *gin.Context, principal *auth.Principal, workspaceID, action string) audit.Entry {
	entry := audit.Entry{
		WorkspaceID: workspaceID,
		ActorKind:   string(principal.Kind),
		Action:      action,
	}
	if principal.UserID != "" {
		userID := principal.UserID
		entry.ActorUserID = &userID
	}
	if ip := c.ClientIP(); ip != "" {
		entry.IPAddress = &ip
	}
	return entry
}

func strPtr(s string) *string {
	return &s
}
