// membership_repository.go answers the membership questions the authorization
// policy engine asks: workspace role, explicit project membership, and the
// workspace a project belongs to. Membership writes are transactional upserts.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// MembershipRepository handles workspace_members and project_members rows.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// GetWorkspaceRole returns the user's role in a workspace, or "" if not a
// member.
func (r *MembershipRepository) GetWorkspaceRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := r.db.GetContext(ctx, &role, `
		SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

// HasProjectMembership reports whether an explicit project_members row exists.
func (r *MembershipRepository) HasProjectMembership(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)
	`, projectID, userID)
	return exists, err
}

// GetProjectWorkspace returns the workspace a project belongs to, or "" if
// the project does not exist.
func (r *MembershipRepository) GetProjectWorkspace(ctx context.Context, projectID string) (string, error) {
	var workspaceID string
	err := r.db.GetContext(ctx, &workspaceID, `
		SELECT workspace_id FROM projects WHERE id = $1
	`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return workspaceID, err
}

// UpsertWorkspaceMember creates or updates a membership in one transaction.
func (r *MembershipRepository) UpsertWorkspaceMember(ctx context.Context, workspaceID, userID, role string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, workspaceID, userID, role, time.Now())
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertProjectMember grants a user explicit access to a project.
func (r *MembershipRepository) UpsertProjectMember(ctx context.Context, projectID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID, time.Now())
	return err
}
