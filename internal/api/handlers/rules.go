package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/authz"
	"github.com/contextlink/contextlink/internal/db/models"
	"github.com/contextlink/contextlink/internal/detection"
	"github.com/contextlink/contextlink/internal/middleware"
)

// RuleStore is the detection rule repository contract the handlers use.
type RuleStore interface {
	UpsertRule(ctx context.Context, rule *models.DetectionRule) error
	GetRuleByName(ctx context.Context, workspaceID, name string) (*models.DetectionRule, error)
	ListEnabledRulesByWorkspace(ctx context.Context, workspaceID string) ([]*models.DetectionRule, error)
}

// RuleHandlers manages workspace detection rules. Admin tier only.
type RuleHandlers struct {
	rules    RuleStore
	policy   *authz.Policy
	recorder *audit.Recorder
}

// NewRuleHandlers creates a new RuleHandlers instance.
func NewRuleHandlers(rules RuleStore, policy *authz.Policy, recorder *audit.Recorder) *RuleHandlers {
	return &RuleHandlers{rules: rules, policy: policy, recorder: recorder}
}

// RuleRequest is the upsert payload for a detection rule. Rules are keyed by
// (workspace, name), so an upsert with an existing name replaces that rule.
type RuleRequest struct {
	Name      string               `json:"name" binding:"required"`
	Severity  string               `json:"severity"`
	Condition models.RuleCondition `json:"condition" binding:"required"`
	Notify    models.RuleNotify    `json:"notify"`
	Enabled   *bool                `json:"enabled"`
	Reason    string               `json:"reason"`
}

// UpsertRuleHandler creates or replaces a detection rule. The rule is
// normalized strictly: an unknown condition type or action key is rejected
// here rather than silently skipped at evaluation time.
// PUT /api/v1/workspaces/:workspace_id/detection-rules
func (h *RuleHandlers) UpsertRuleHandler() gin.HandlerFunc {
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

		var req RuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, apierror.Validation("invalid request body: "+err.Error()))
			return
		}

		rule := &models.DetectionRule{
			WorkspaceID: workspaceID,
			Name:        req.Name,
			Severity:    req.Severity,
			Condition:   req.Condition,
			Notify:      req.Notify,
			Enabled:     true,
		}
		if req.Enabled != nil {
			rule.Enabled = *req.Enabled
		}
		if err := detection.NormalizeRule(rule); err != nil {
			apierror.Abort(c, err)
			return
		}

		existing, err := h.rules.GetRuleByName(c.Request.Context(), workspaceID, rule.Name)
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		if err := h.rules.UpsertRule(c.Request.Context(), rule); err != nil {
			apierror.Abort(c, err)
			return
		}

		entry := auditEntry(c, principal, workspaceID, "security.rule.update")
		entry.TargetType = strPtr("detection_rule")
		entry.TargetID = &rule.ID
		entry.Reason = req.Reason
		if existing != nil {
			entry.ChangedFields = audit.DiffFields(ruleFieldMap(existing), ruleFieldMap(rule))
		}
		if _, err := h.recorder.Record(c.Request.Context(), entry); err != nil {
			apierror.Abort(c, err)
			return
		}

		c.JSON(http.StatusOK, rule)
	}
}

// ruleFieldMap projects the auditable fields of a rule for change diffing.
func ruleFieldMap(r *models.DetectionRule) map[string]any {
	return map[string]any{
		"name":      r.Name,
		"severity":  r.Severity,
		"condition": r.Condition,
		"notify":    r.Notify,
		"enabled":   r.Enabled,
	}
}

// ListRulesHandler lists a workspace's enabled detection rules.
// GET /api/v1/workspaces/:workspace_id/detection-rules
func (h *RuleHandlers) ListRulesHandler() gin.HandlerFunc {
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

		rules, err := h.rules.ListEnabledRulesByWorkspace(c.Request.Context(), workspaceID)
		if err != nil {
			apierror.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}
