// engine.go evaluates every recorded audit event against its workspace's
// detection rules. A breach emits exactly one alert per (rule, group, time
// bucket) — the correlation ID is the de-dup key — recorded back into the
// audit pipeline as a security.detection.alert event and optionally forwarded
// to the rule's notify sink.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/db/models"
	"github.com/contextlink/contextlink/internal/safego"
	"github.com/contextlink/contextlink/internal/telemetry"
)

// AlertAction is the action name of emitted detection alerts.
const AlertAction = "security.detection.alert"

// RuleStore loads the rules to evaluate.
type RuleStore interface {
	ListEnabledRulesByWorkspace(ctx context.Context, workspaceID string) ([]*models.DetectionRule, error)
}

// EventCounter answers "how many events matched this action in this trailing
// window", per actor or workspace-wide.
type EventCounter interface {
	CountByActorSince(ctx context.Context, workspaceID, action, actorUserID string, since time.Time) (int, error)
	CountByWorkspaceSince(ctx context.Context, workspaceID, action string, since time.Time) (int, error)
}

// AlertRecorder records emitted alerts. Satisfied by audit.Recorder.
type AlertRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (*models.AuditEvent, error)
}

// SinkStore resolves a rule's notify sink.
type SinkStore interface {
	GetSinkByID(ctx context.Context, id string) (*models.AuditSink, error)
}

// Engine evaluates the audit stream against configured rules.
type Engine struct {
	rules     RuleStore
	counter   EventCounter
	alerts    AlertRecorder
	sinks     SinkStore
	deliverer *audit.Deliverer

	mu   sync.Mutex
	seen map[string]time.Time // correlation ID → bucket expiry
}

// NewEngine creates an Engine. sinks and deliverer may be nil to disable
// per-rule sink notification.
func NewEngine(rules RuleStore, counter EventCounter, alerts AlertRecorder, sinks SinkStore, deliverer *audit.Deliverer) *Engine {
	return &Engine{
		rules:     rules,
		counter:   counter,
		alerts:    alerts,
		sinks:     sinks,
		deliverer: deliverer,
		seen:      make(map[string]time.Time),
	}
}

// ObserveEvent implements audit.Observer. Evaluation failures are logged and
// swallowed; detection must never fail the pipeline that feeds it.
func (e *Engine) ObserveEvent(ctx context.Context, event *models.AuditEvent) {
	rules, err := e.rules.ListEnabledRulesByWorkspace(ctx, event.WorkspaceID)
	if err != nil {
		slog.Error("detection: failed to load rules", "workspace_id", event.WorkspaceID, "error", err)
		return
	}

	for _, raw := range rules {
		rule := NormalizeRuleOrNil(raw)
		if rule == nil {
			slog.Warn("detection: skipping malformed persisted rule", "rule_id", raw.ID)
			continue
		}
		switch rule.Condition.Type {
		case ConditionThreshold:
			e.evaluateThreshold(ctx, rule, event)
		}
	}
}

func (e *Engine) evaluateThreshold(ctx context.Context, rule *models.DetectionRule, event *models.AuditEvent) {
	cond := rule.Condition.Threshold
	if cond.ActionKey != event.Action {
		return
	}

	now := time.Now()
	since := now.Add(-time.Duration(cond.WindowSec) * time.Second)

	var (
		groupKey string
		count    int
		err      error
	)
	switch cond.GroupBy {
	case GroupByWorkspace:
		groupKey = event.WorkspaceID
		count, err = e.counter.CountByWorkspaceSince(ctx, event.WorkspaceID, cond.ActionKey, since)
	default: // GroupByActor
		if event.ActorUserID == nil {
			return // env-admin events have no actor group
		}
		groupKey = *event.ActorUserID
		count, err = e.counter.CountByActorSince(ctx, event.WorkspaceID, cond.ActionKey, groupKey, since)
	}
	if err != nil {
		slog.Error("detection: failed to count events", "rule_id", rule.ID, "error", err)
		return
	}
	if count < cond.CountGTE {
		return
	}

	correlationID := BuildCorrelationID(rule.ID, groupKey, cond.WindowSec, now)
	if !e.markSeen(correlationID, now, cond.WindowSec) {
		return // already alerted for this bucket
	}

	e.emitAlert(ctx, rule, event, correlationID, count)
}

// markSeen records a correlation ID and reports whether it was new. Expired
// entries are pruned on the way through so the map tracks only live buckets.
func (e *Engine) markSeen(correlationID string, now time.Time, windowSec int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, expiry := range e.seen {
		if now.After(expiry) {
			delete(e.seen, id)
		}
	}
	if _, ok := e.seen[correlationID]; ok {
		return false
	}
	e.seen[correlationID] = now.Add(time.Duration(windowSec) * time.Second)
	return true
}

func (e *Engine) emitAlert(ctx context.Context, rule *models.DetectionRule, event *models.AuditEvent, correlationID string, count int) {
	reason := fmt.Sprintf("detection rule %q breached: %d occurrences of %s within %ds",
		rule.Name, count, rule.Condition.Threshold.ActionKey, rule.Condition.Threshold.WindowSec)
	if rule.Notify.MessageTemplate != nil && *rule.Notify.MessageTemplate != "" {
		reason = *rule.Notify.MessageTemplate
	}

	targetType := "detection_rule"
	alert, err := e.alerts.Record(ctx, audit.Entry{
		WorkspaceID:   event.WorkspaceID,
		ActorUserID:   event.ActorUserID,
		ActorKind:     event.ActorKind,
		Action:        AlertAction,
		TargetType:    &targetType,
		TargetID:      &rule.ID,
		Reason:        reason,
		CorrelationID: &correlationID,
	})
	if err != nil {
		slog.Error("detection: failed to record alert", "rule_id", rule.ID, "error", err)
		return
	}
	telemetry.DetectionAlertsTotal.WithLabelValues(rule.Severity).Inc()
	slog.Warn("detection alert emitted",
		"rule_id", rule.ID, "severity", rule.Severity, "correlation_id", correlationID, "count", count)

	if rule.Notify.SinkID != nil && e.sinks != nil && e.deliverer != nil {
		sinkID := *rule.Notify.SinkID
		safego.Go(func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()
			sink, err := e.sinks.GetSinkByID(notifyCtx, sinkID)
			if err != nil || sink == nil || !sink.Enabled {
				slog.Warn("detection: notify sink unavailable", "sink_id", sinkID, "error", err)
				return
			}
			e.deliverer.Deliver(notifyCtx, sink, alert)
		})
	}
}
