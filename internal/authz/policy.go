// Package authz implements the authorization policy engine. Every privileged
// operation passes through one of the Assert helpers after authentication.
// OWNER and ADMIN form an equivalent admin tier; MEMBER is restricted and
// needs explicit project membership for project-scoped resources.
//
// Not-found and insufficient-role both surface as a single "access denied"
// error so responses never leak whether a workspace or project exists.
package authz

import (
	"context"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/auth"
	"github.com/contextlink/contextlink/internal/db/models"
)

// MembershipStore is the storage contract the policy engine reads from.
type MembershipStore interface {
	GetWorkspaceRole(ctx context.Context, workspaceID, userID string) (string, error)
	HasProjectMembership(ctx context.Context, projectID, userID string) (bool, error)
	GetProjectWorkspace(ctx context.Context, projectID string) (string, error)
}

// Policy evaluates role and membership checks against the store.
type Policy struct {
	members MembershipStore
}

// NewPolicy creates a Policy backed by the given membership store.
func NewPolicy(members MembershipStore) *Policy {
	return &Policy{members: members}
}

// IsWorkspaceAdminRole reports whether a role belongs to the admin tier.
func IsWorkspaceAdminRole(role string) bool {
	return role == models.RoleOwner || role == models.RoleAdmin
}

// RequireWorkspaceMembership returns the principal's role in a workspace, or
// "" if none. Bypass principals are treated as OWNER without a storage
// lookup.
func (p *Policy) RequireWorkspaceMembership(ctx context.Context, principal *auth.Principal, workspaceID string) (string, error) {
	if principal.BypassesWorkspaceChecks() {
		return models.RoleOwner, nil
	}
	return p.members.GetWorkspaceRole(ctx, workspaceID, principal.UserID)
}

// HasProjectAccess reports whether the principal can act inside a project:
// admin-tier workspace role, or an explicit project membership row. The
// project must belong to the asserted workspace; a role or project
// membership held under a different workspace grants nothing here.
func (p *Policy) HasProjectAccess(ctx context.Context, principal *auth.Principal, workspaceID, projectID string) (bool, error) {
	if principal.BypassesWorkspaceChecks() {
		return true, nil
	}
	role, err := p.members.GetWorkspaceRole(ctx, workspaceID, principal.UserID)
	if err != nil {
		return false, err
	}
	if role == "" {
		return false, nil
	}
	owner, err := p.members.GetProjectWorkspace(ctx, projectID)
	if err != nil {
		return false, err
	}
	if owner != workspaceID {
		return false, nil
	}
	if IsWorkspaceAdminRole(role) {
		return true, nil
	}
	return p.members.HasProjectMembership(ctx, projectID, principal.UserID)
}

// AssertWorkspaceAccess fails unless the principal has any role in the
// workspace.
func (p *Policy) AssertWorkspaceAccess(ctx context.Context, principal *auth.Principal, workspaceID string) error {
	role, err := p.RequireWorkspaceMembership(ctx, principal, workspaceID)
	if err != nil {
		return err
	}
	if role == "" {
		return apierror.Forbidden("access denied")
	}
	return nil
}

// AssertWorkspaceAdmin fails unless the principal holds an admin-tier role.
func (p *Policy) AssertWorkspaceAdmin(ctx context.Context, principal *auth.Principal, workspaceID string) error {
	role, err := p.RequireWorkspaceMembership(ctx, principal, workspaceID)
	if err != nil {
		return err
	}
	if !IsWorkspaceAdminRole(role) {
		return apierror.Forbidden("access denied")
	}
	return nil
}

// AssertProjectAccess fails unless the principal can act inside the project.
func (p *Policy) AssertProjectAccess(ctx context.Context, principal *auth.Principal, workspaceID, projectID string) error {
	ok, err := p.HasProjectAccess(ctx, principal, workspaceID, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.Forbidden("access denied")
	}
	return nil
}

// AssertRawAccess gates raw content exposure, which is stricter than normal
// reads. Bypass principals pass unconditionally. With a project scope,
// project-level access (including the admin tier) suffices. Without one,
// only an admin-tier workspace role grants workspace-wide raw access; plain
// membership is not enough.
func (p *Policy) AssertRawAccess(ctx context.Context, principal *auth.Principal, workspaceID string, projectID *string) error {
	if principal.BypassesWorkspaceChecks() {
		return nil
	}
	if projectID != nil && *projectID != "" {
		return p.AssertProjectAccess(ctx, principal, workspaceID, *projectID)
	}
	return p.AssertWorkspaceAdmin(ctx, principal, workspaceID)
}
