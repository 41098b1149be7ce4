// Package models defines the database model types for the ContextLink trust
// core. Each type corresponds to a table and carries `db` tags for sqlx row
// scanning plus `json` tags for API serialization. Models are pure data —
// business logic belongs in the service layer, query logic in repositories.
package models

import "time"

// Workspace is the tenant boundary. Every authorization decision is scoped to
// exactly one workspace.
type Workspace struct {
	ID        string    `db:"id" json:"id"`
	Key       string    `db:"key" json:"key"` // unique, URL-safe identifier
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Project is a sub-tenant scope inside a workspace with its own member set.
type Project struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id"`
	Name        string    `db:"name" json:"name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// User is a database-backed identity. Env admins are configured, not stored.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Role values for workspace membership. OWNER and ADMIN form the admin tier;
// MEMBER is restricted.
const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// WorkspaceMember binds a user to a workspace with a role.
type WorkspaceMember struct {
	WorkspaceID string    `db:"workspace_id" json:"workspace_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Role        string    `db:"role" json:"role"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ProjectMember grants a workspace MEMBER explicit access to one project.
// Workspace admins have implicit access to every project and need no row.
type ProjectMember struct {
	ProjectID string    `db:"project_id" json:"project_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
