// audit_repository.go persists and queries the audit event stream. The
// counting queries serve the threshold detection engine, which needs "events
// matching this action in this trailing window" both per-actor and
// workspace-wide.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contextlink/contextlink/internal/db/models"
)

// AuditRepository handles audit_events rows.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertEvent writes one immutable audit event, assigning ID and CreatedAt if
// unset.
func (r *AuditRepository) InsertEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_events
			(id, workspace_id, project_id, actor_user_id, actor_kind, action, security,
			 target_type, target_id, reason, reason_source, changed_fields, correlation_id, ip_address, created_at)
		VALUES
			(:id, :workspace_id, :project_id, :actor_user_id, :actor_kind, :action, :security,
			 :target_type, :target_id, :reason, :reason_source, :changed_fields, :correlation_id, :ip_address, :created_at)
	`, event)
	return err
}

// ListEventsByWorkspace returns a page of events, newest first.
func (r *AuditRepository) ListEventsByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]*models.AuditEvent, error) {
	events := make([]*models.AuditEvent, 0)
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, workspace_id, project_id, actor_user_id, actor_kind, action, security,
		       target_type, target_id, reason, reason_source, changed_fields, correlation_id, ip_address, created_at
		FROM audit_events
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, workspaceID, limit, offset)
	return events, err
}

// CountByActorSince counts events for one action key by one actor within a
// workspace since the given instant.
func (r *AuditRepository) CountByActorSince(ctx context.Context, workspaceID, action, actorUserID string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM audit_events
		WHERE workspace_id = $1 AND action = $2 AND actor_user_id = $3 AND created_at >= $4
	`, workspaceID, action, actorUserID, since)
	return count, err
}

// CountByWorkspaceSince counts events for one action key across the whole
// workspace since the given instant.
func (r *AuditRepository) CountByWorkspaceSince(ctx context.Context, workspaceID, action string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM audit_events
		WHERE workspace_id = $1 AND action = $2 AND created_at >= $3
	`, workspaceID, action, since)
	return count, err
}
