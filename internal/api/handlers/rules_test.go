package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/audit"
	"github.com/contextlink/contextlink/internal/auth"
	"github.com/contextlink/contextlink/internal/authz"
	"github.com/contextlink/contextlink/internal/db/models"
)

type memRuleStore struct {
	mu     sync.Mutex
	byName map[string]*models.DetectionRule // "workspace/name"
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{byName: map[string]*models.DetectionRule{}}
}

func (s *memRuleStore) UpsertRule(_ context.Context, rule *models.DetectionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = "rule-" + rule.Name
	}
	s.byName[rule.WorkspaceID+"/"+rule.Name] = rule
	return nil
}

func (s *memRuleStore) GetRuleByName(_ context.Context, workspaceID, name string) (*models.DetectionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.byName[workspaceID+"/"+name]
	if !ok {
		return nil, nil
	}
	return rule, nil
}

func (s *memRuleStore) ListEnabledRulesByWorkspace(_ context.Context, workspaceID string) ([]*models.DetectionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DetectionRule
	for _, rule := range s.byName {
		if rule.WorkspaceID == workspaceID && rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

type ruleTestEnv struct {
	router *gin.Engine
	store  *memRuleStore
	events *fakeEventStore
}

func newRuleTestEnv(t *testing.T, principal *auth.Principal) *ruleTestEnv {
	t.Helper()

	members := &fakeMembers{roles: map[string]string{
		"ws-1/admin-1":  models.RoleAdmin,
		"ws-1/member-1": models.RoleMember,
	}}
	events := &fakeEventStore{}
	recorder := audit.NewRecorder(events, fakeSinkStore{}, audit.NewDeliverer(time.Second, nil))
	store := newMemRuleStore()
	h := NewRuleHandlers(store, authz.NewPolicy(members), recorder)

	router := gin.New()
	group := router.Group("/workspaces/:workspace_id", asPrincipal(principal))
	group.GET("/detection-rules", h.ListRulesHandler())
	group.PUT("/detection-rules", h.UpsertRuleHandler())

	return &ruleTestEnv{router: router, store: store, events: events}
}

func (e *ruleTestEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func thresholdRuleBody(name string) gin.H {
	return gin.H{
		"name":     name,
		"severity": "high",
		"condition": gin.H{
			"type": "threshold",
			"threshold": gin.H{
				"action_key": "raw.view",
				"window_sec": 300,
				"count_gte":  5,
				"group_by":   "actor_user_id",
			},
		},
		"reason": "raw access monitoring",
	}
}

// ---------------------------------------------------------------------------
// Upsert
// ---------------------------------------------------------------------------

func TestUpsertRule(t *testing.T) {
	env := newRuleTestEnv(t, adminUser())

	w := env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", thresholdRuleBody("burst-raw-access"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var rule models.DetectionRule
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil {
		t.Fatal(err)
	}
	if !rule.Enabled {
		t.Error("rule not enabled by default")
	}
	if rule.Condition.Threshold.CountGTE != 5 {
		t.Errorf("count_gte = %d", rule.Condition.Threshold.CountGTE)
	}
	if rule.Notify.Via != "security_stream" {
		t.Errorf("notify.via = %q, want security_stream default", rule.Notify.Via)
	}

	if actions := env.events.actions(); len(actions) != 1 || actions[0] != "security.rule.update" {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestUpsertRuleReplacesByName(t *testing.T) {
	env := newRuleTestEnv(t, adminUser())

	env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", thresholdRuleBody("burst-raw-access"))

	updated := thresholdRuleBody("burst-raw-access")
	updated["condition"].(gin.H)["threshold"].(gin.H)["count_gte"] = 50
	env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", updated)

	if len(env.store.byName) != 1 {
		t.Fatalf("rule count = %d, want 1", len(env.store.byName))
	}
	stored := env.store.byName["ws-1/burst-raw-access"]
	if stored.Condition.Threshold.CountGTE != 50 {
		t.Errorf("count_gte = %d, want 50 after upsert", stored.Condition.Threshold.CountGTE)
	}

	// The replacement's audit event names the touched keys.
	env.events.mu.Lock()
	defer env.events.mu.Unlock()
	if len(env.events.events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(env.events.events))
	}
	first, second := env.events.events[0], env.events.events[1]
	if len(first.ChangedFields) != 0 {
		t.Errorf("initial upsert ChangedFields = %v, want none", first.ChangedFields)
	}
	if len(second.ChangedFields) != 1 || second.ChangedFields[0] != "condition" {
		t.Errorf("replacement ChangedFields = %v, want [condition]", second.ChangedFields)
	}
	if !second.Security {
		t.Error("security.rule.update not marked as security-sensitive")
	}
}

func TestUpsertRuleRejectsUnknownConditionType(t *testing.T) {
	env := newRuleTestEnv(t, adminUser())

	body := thresholdRuleBody("bad-rule")
	body["condition"] = gin.H{"type": "anomaly_ml"}
	w := env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if len(env.store.byName) != 0 {
		t.Error("rejected rule was persisted")
	}
}

func TestUpsertRuleRejectsMissingActionKey(t *testing.T) {
	env := newRuleTestEnv(t, adminUser())

	body := thresholdRuleBody("bad-rule")
	body["condition"].(gin.H)["threshold"].(gin.H)["action_key"] = ""
	w := env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestUpsertRuleMemberForbidden(t *testing.T) {
	member := &auth.Principal{Kind: auth.PrincipalDatabaseUser, UserID: "member-1", APIKeyID: "k"}
	env := newRuleTestEnv(t, member)

	w := env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", thresholdRuleBody("r"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestListRulesOmitsDisabled(t *testing.T) {
	env := newRuleTestEnv(t, adminUser())

	env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", thresholdRuleBody("active"))
	disabled := thresholdRuleBody("dormant")
	disabled["enabled"] = false
	env.do(http.MethodPut, "/workspaces/ws-1/detection-rules", disabled)

	w := env.do(http.MethodGet, "/workspaces/ws-1/detection-rules", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Rules []models.DetectionRule `json:"rules"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Rules) != 1 || body.Rules[0].Name != "active" {
		t.Errorf("rules = %+v, want just the active rule", body.Rules)
	}
}
