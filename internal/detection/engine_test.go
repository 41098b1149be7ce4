package detection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/db/models"
)

type fakeRuleStore struct {
	rules []*models.DetectionRule
}

func (s *fakeRuleStore) ListEnabledRulesByWorkspace(_ context.Context, _ string) ([]*models.DetectionRule, error) {
	return s.rules, nil
}

type fakeCounter struct {
	actorCount     int
	workspaceCount int
}

func (c *fakeCounter) CountByActorSince(_ context.Context, _, _, _ string, _ time.Time) (int, error) {
	return c.actorCount, nil
}

func (c *fakeCounter) CountByWorkspaceSince(_ context.Context, _, _ string, _ time.Time) (int, error) {
	return c.workspaceCount, nil
}

type fakeAlerts struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *fakeAlerts) Record(_ context.Context, entry audit.Entry) (*models.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return &models.AuditEvent{ID: "alert-1", WorkspaceID: entry.WorkspaceID, Action: entry.Action}, nil
}

func (a *fakeAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *fakeAlerts) last() audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

func enabledRule(groupBy string, countGTE int) *models.DetectionRule {
	return &models.DetectionRule{
		ID:          "rule-1",
		WorkspaceID: "ws-1",
		Name:        "raw burst",
		Severity:    "high",
		Enabled:     true,
		Condition: models.RuleCondition{
			Type: ConditionThreshold,
			Threshold: &models.ThresholdCondition{
				ActionKey: "raw.view",
				WindowSec: 300,
				CountGTE:  countGTE,
				GroupBy:   groupBy,
			},
		},
	}
}

func rawViewEvent(actor string) *models.AuditEvent {
	e := &models.AuditEvent{WorkspaceID: "ws-1", ActorKind: "database", Action: "raw.view"}
	if actor != "" {
		e.ActorUserID = &actor
	}
	return e
}

// ---------------------------------------------------------------------------
// Threshold evaluation
// ---------------------------------------------------------------------------

func TestEngineEmitsAlertOnBreach(t *testing.T) {
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{enabledRule(GroupByActor, 5)}},
		&fakeCounter{actorCount: 7},
		alerts, nil, nil,
	)

	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))

	if alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", alerts.count())
	}
	entry := alerts.last()
	if entry.Action != AlertAction {
		t.Errorf("Action = %q, want %q", entry.Action, AlertAction)
	}
	if entry.CorrelationID == nil || *entry.CorrelationID == "" {
		t.Error("alert missing correlation ID")
	}
}

func TestEngineBelowThresholdNoAlert(t *testing.T) {
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{enabledRule(GroupByActor, 5)}},
		&fakeCounter{actorCount: 4},
		alerts, nil, nil,
	)

	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))

	if alerts.count() != 0 {
		t.Errorf("alerts = %d, want 0", alerts.count())
	}
}

func TestEngineActionMismatchNoAlert(t *testing.T) {
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{enabledRule(GroupByActor, 1)}},
		&fakeCounter{actorCount: 100},
		alerts, nil, nil,
	)

	e.ObserveEvent(context.Background(), &models.AuditEvent{
		WorkspaceID: "ws-1", ActorKind: "database", Action: "ci.success",
	})

	if alerts.count() != 0 {
		t.Errorf("alerts = %d, want 0", alerts.count())
	}
}

func TestEngineDedupesWithinBucket(t *testing.T) {
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{enabledRule(GroupByActor, 5)}},
		&fakeCounter{actorCount: 10},
		alerts, nil, nil,
	)

	// A 300s window is one bucket for consecutive calls; only the first
	// breach alerts.
	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))
	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))
	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))

	if alerts.count() != 1 {
		t.Errorf("alerts = %d, want 1 per (rule, group, bucket)", alerts.count())
	}
}

func TestEngineSeparateActorsAlertSeparately(t *testing.T) {
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{enabledRule(GroupByActor, 5)}},
		&fakeCounter{actorCount: 10},
		alerts, nil, nil,
	)

	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))
	e.ObserveEvent(context.Background(), rawViewEvent("user-2"))

	if alerts.count() != 2 {
		t.Errorf("alerts = %d, want one per actor group", alerts.count())
	}
}

func TestEngineActorGroupSkipsEnvAdminEvents(t *testing.T) {
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{enabledRule(GroupByActor, 1)}},
		&fakeCounter{actorCount: 100},
		alerts, nil, nil,
	)

	// Env-admin events carry no actor user ID, so actor-grouped rules have
	// no group to count under.
	e.ObserveEvent(context.Background(), rawViewEvent(""))

	if alerts.count() != 0 {
		t.Errorf("alerts = %d, want 0", alerts.count())
	}
}

func TestEngineWorkspaceGroupCountsEnvAdminEvents(t *testing.T) {
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{enabledRule(GroupByWorkspace, 5)}},
		&fakeCounter{workspaceCount: 9},
		alerts, nil, nil,
	)

	e.ObserveEvent(context.Background(), rawViewEvent(""))

	if alerts.count() != 1 {
		t.Errorf("alerts = %d, want 1", alerts.count())
	}
}

func TestEngineSkipsMalformedPersistedRule(t *testing.T) {
	broken := enabledRule(GroupByActor, 1)
	broken.Condition.Type = "anomaly"
	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{broken}},
		&fakeCounter{actorCount: 100},
		alerts, nil, nil,
	)

	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))

	if alerts.count() != 0 {
		t.Errorf("alerts = %d, want malformed rule skipped", alerts.count())
	}
}

func TestEngineUsesMessageTemplate(t *testing.T) {
	rule := enabledRule(GroupByActor, 1)
	template := "raw access burst detected"
	rule.Notify.MessageTemplate = &template

	alerts := &fakeAlerts{}
	e := NewEngine(
		&fakeRuleStore{rules: []*models.DetectionRule{rule}},
		&fakeCounter{actorCount: 3},
		alerts, nil, nil,
	)

	e.ObserveEvent(context.Background(), rawViewEvent("user-1"))

	if alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", alerts.count())
	}
	if alerts.last().Reason != template {
		t.Errorf("Reason = %q, want template text", alerts.last().Reason)
	}
}
