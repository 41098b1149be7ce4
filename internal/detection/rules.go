// Package detection implements the threshold detection engine: rule
// normalization, deterministic alert correlation, and continuous evaluation
// of the audit stream. Rule conditions are a tagged union with a single
// variant today ("threshold"); evaluation switches on the kind so future
// variants slot in without touching call sites.
package detection

import (
	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/db/models"
)

// Condition kinds. ConditionThreshold is the only supported variant.
const ConditionThreshold = "threshold"

// GroupBy dimensions.
const (
	GroupByActor     = "actor_user_id"
	GroupByWorkspace = "workspace"
)

// Clamp bounds and defaults for threshold conditions.
const (
	MinWindowSec     = 10
	MaxWindowSec     = 86400
	DefaultWindowSec = 300
	MinCountGTE      = 1
	MaxCountGTE      = 1000000
	DefaultCountGTE  = 20
)

// DefaultNotifyVia routes alerts into the workspace's security stream.
const DefaultNotifyVia = "security_stream"

// NormalizeRule validates and clamps a rule definition in place. It is strict
// — used on the upsert path where malformed input must be rejected.
func NormalizeRule(rule *models.DetectionRule) error {
	if rule.Name == "" {
		return apierror.Validation("rule name is required")
	}
	if rule.Severity == "" {
		rule.Severity = "medium"
	}
	if err := normalizeCondition(&rule.Condition); err != nil {
		return err
	}
	normalizeNotify(&rule.Notify)
	return nil
}

// NormalizeRuleOrNil is the lenient variant used when loading persisted
// rules: a malformed row yields nil and is skipped by evaluation rather than
// crashing it.
func NormalizeRuleOrNil(rule *models.DetectionRule) *models.DetectionRule {
	if rule == nil {
		return nil
	}
	if err := NormalizeRule(rule); err != nil {
		return nil
	}
	return rule
}

func normalizeCondition(cond *models.RuleCondition) error {
	switch cond.Type {
	case ConditionThreshold:
		if cond.Threshold == nil {
			return apierror.Validation("threshold condition body is required")
		}
		return normalizeThreshold(cond.Threshold)
	default:
		return apierror.Validation("unsupported condition type: only \"threshold\" is supported")
	}
}

func normalizeThreshold(t *models.ThresholdCondition) error {
	if t.ActionKey == "" {
		return apierror.Validation("condition action_key is required")
	}
	if t.WindowSec == 0 {
		t.WindowSec = DefaultWindowSec
	} else if t.WindowSec < MinWindowSec {
		t.WindowSec = MinWindowSec
	} else if t.WindowSec > MaxWindowSec {
		t.WindowSec = MaxWindowSec
	}
	if t.CountGTE == 0 {
		t.CountGTE = DefaultCountGTE
	} else if t.CountGTE < MinCountGTE {
		t.CountGTE = MinCountGTE
	} else if t.CountGTE > MaxCountGTE {
		t.CountGTE = MaxCountGTE
	}
	switch t.GroupBy {
	case "":
		t.GroupBy = GroupByActor
	case GroupByActor, GroupByWorkspace:
	default:
		return apierror.Validation("condition group_by must be actor_user_id or workspace")
	}
	return nil
}

func normalizeNotify(n *models.RuleNotify) {
	if n.Via == "" {
		n.Via = DefaultNotifyVia
	}
}
