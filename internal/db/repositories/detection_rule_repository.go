// detection_rule_repository.go manages workspace detection rules. Rules are
// normalized by internal/detection before they are written; malformed rows
// that predate validation are tolerated on read and skipped during
// evaluation.
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

// DetectionRuleRepository handles detection_rules rows.
type DetectionRuleRepository struct {
	db *sqlx.DB
}

// NewDetectionRuleRepository creates a new DetectionRuleRepository.
func NewDetectionRuleRepository(db *sqlx.DB) *DetectionRuleRepository {
	return &DetectionRuleRepository{db: db}
}

// UpsertRule creates or replaces a rule by (workspace_id, name).
func (r *DetectionRuleRepository) UpsertRule(ctx context.Context, rule *models.DetectionRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
		rule.CreatedAt = time.Now()
	}
	rule.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO detection_rules
			(id, workspace_id, name, severity, condition, notify, enabled, created_at, updated_at)
		VALUES
			(:id, :workspace_id, :name, :severity, :condition, :notify, :enabled, :created_at, :updated_at)
		ON CONFLICT (workspace_id, name) DO UPDATE
		SET severity = EXCLUDED.severity, condition = EXCLUDED.condition,
		    notify = EXCLUDED.notify, enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
	`, rule)
	return err
}

// GetRuleByID retrieves a rule.
func (r *DetectionRuleRepository) GetRuleByID(ctx context.Context, id string) (*models.DetectionRule, error) {
	var rule models.DetectionRule
	err := r.db.GetContext(ctx, &rule, `
		SELECT id, workspace_id, name, severity, condition, notify, enabled, created_at, updated_at
		FROM detection_rules
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// GetRuleByName retrieves a rule by its (workspace_id, name) key.
func (r *DetectionRuleRepository) GetRuleByName(ctx context.Context, workspaceID, name string) (*models.DetectionRule, error) {
	var rule models.DetectionRule
	err := r.db.GetContext(ctx, &rule, `
		SELECT id, workspace_id, name, severity, condition, notify, enabled, created_at, updated_at
		FROM detection_rules
		WHERE workspace_id = $1 AND name = $2
	`, workspaceID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListEnabledRulesByWorkspace returns the rules evaluated against a
// workspace's audit stream.
func (r *DetectionRuleRepository) ListEnabledRulesByWorkspace(ctx context.Context, workspaceID string) ([]*models.DetectionRule, error) {
	rules := make([]*models.DetectionRule, 0)
	err := r.db.SelectContext(ctx, &rules, `
		SELECT id, workspace_id, name, severity, condition, notify, enabled, created_at, updated_at
		FROM detection_rules
		WHERE workspace_id = $1 AND enabled = true
		ORDER BY created_at
	`, workspaceID)
	return rules, err
}
