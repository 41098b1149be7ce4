// sink_repository.go manages audit sink rows. Endpoint URLs are validated by
// internal/audit before they reach this layer; secrets arrive already
// encrypted.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contextlink/contextlink/internal/db/models"
)

// SinkRepository handles audit_sinks rows.
type SinkRepository struct {
	db *sqlx.DB
}

// NewSinkRepository creates a new SinkRepository.
func NewSinkRepository(db *sqlx.DB) *SinkRepository {
	return &SinkRepository{db: db}
}

// CreateSink inserts a new sink, assigning ID and timestamps.
func (r *SinkRepository) CreateSink(ctx context.Context, sink *models.AuditSink) error {
	sink.ID = uuid.New().String()
	sink.CreatedAt = time.Now()
	sink.UpdatedAt = sink.CreatedAt

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_sinks
			(id, workspace_id, name, enabled, endpoint_url, secret_encrypted, filter, retry, created_at, updated_at)
		VALUES
			(:id, :workspace_id, :name, :enabled, :endpoint_url, :secret_encrypted, :filter, :retry, :created_at, :updated_at)
	`, sink)
	return err
}

// UpdateSink rewrites a sink's mutable fields.
func (r *SinkRepository) UpdateSink(ctx context.Context, sink *models.AuditSink) error {
	sink.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE audit_sinks
		SET name = :name, enabled = :enabled, endpoint_url = :endpoint_url,
		    secret_encrypted = :secret_encrypted, filter = :filter, retry = :retry, updated_at = :updated_at
		WHERE id = :id
	`, sink)
	return err
}

// GetSinkByID retrieves a sink.
func (r *SinkRepository) GetSinkByID(ctx context.Context, id string) (*models.AuditSink, error) {
	var sink models.AuditSink
	err := r.db.GetContext(ctx, &sink, `
		SELECT id, workspace_id, name, enabled, endpoint_url, secret_encrypted, filter, retry, created_at, updated_at
		FROM audit_sinks
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sink, nil
}

// ListEnabledSinksByWorkspace returns the sinks a workspace's events fan out
// to.
func (r *SinkRepository) ListEnabledSinksByWorkspace(ctx context.Context, workspaceID string) ([]*models.AuditSink, error) {
	sinks := make([]*models.AuditSink, 0)
	err := r.db.SelectContext(ctx, &sinks, `
		SELECT id, workspace_id, name, enabled, endpoint_url, secret_encrypted, filter, retry, created_at, updated_at
		FROM audit_sinks
		WHERE workspace_id = $1 AND enabled = true
		ORDER BY created_at
	`, workspaceID)
	return sinks, err
}

// ListSinksByWorkspace returns all sinks, enabled or not, for management UIs.
func (r *SinkRepository) ListSinksByWorkspace(ctx context.Context, workspaceID string) ([]*models.AuditSink, error) {
	sinks := make([]*models.AuditSink, 0)
	err := r.db.SelectContext(ctx, &sinks, `
		SELECT id, workspace_id, name, enabled, endpoint_url, secret_encrypted, filter, retry, created_at, updated_at
		FROM audit_sinks
		WHERE workspace_id = $1
		ORDER BY created_at
	`, workspaceID)
	return sinks, err
}
