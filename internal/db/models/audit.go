// audit.go defines the AuditEvent, AuditSink, and DetectionRule models.
// Action names are dot-namespaced ("api_key.create", "raw.view"); the prefix
// drives both reason heuristics and security classification.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Reason sources recorded on every audit event.
const (
	ReasonSourceUser      = "user"
	ReasonSourceHeuristic = "heuristic"
)

// AuditEvent is an immutable record of one completed privileged operation.
// Security is derived from the action at record time; ChangedFields names the
// keys an update touched, never their values.
type AuditEvent struct {
	ID            string         `db:"id" json:"id"`
	WorkspaceID   string         `db:"workspace_id" json:"workspace_id"`
	ProjectID     *string        `db:"project_id" json:"project_id,omitempty"`
	ActorUserID   *string        `db:"actor_user_id" json:"actor_user_id,omitempty"` // nil for env admins
	ActorKind     string         `db:"actor_kind" json:"actor_kind"`                 // "env" or "database"
	Action        string         `db:"action" json:"action"`
	Security      bool           `db:"security" json:"security"`
	TargetType    *string        `db:"target_type" json:"target_type,omitempty"`
	TargetID      *string        `db:"target_id" json:"target_id,omitempty"`
	Reason        string         `db:"reason" json:"reason"`
	ReasonSource  string         `db:"reason_source" json:"reason_source"`
	ChangedFields pq.StringArray `db:"changed_fields" json:"changed_fields,omitempty"`
	CorrelationID *string        `db:"correlation_id" json:"correlation_id,omitempty"`
	IPAddress     *string        `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// EventFilter scopes which events a sink receives. An empty include list
// means "all"; exclusion is authoritative and wins over everything, including
// the security classification of the action.
type EventFilter struct {
	IncludePrefixes []string `json:"include_prefixes,omitempty"`
	ExcludeActions  []string `json:"exclude_actions,omitempty"`
}

// RetryPolicy controls webhook delivery retries. Attempt k (1-indexed) waits
// BackoffSec[min(k-1, len-1)] seconds after the prior failure.
type RetryPolicy struct {
	MaxAttempts int   `json:"max_attempts"`
	BackoffSec  []int `json:"backoff_sec"`
}

// AuditSink is a workspace-scoped webhook destination for audit events. The
// stored secret is AES-GCM encrypted at rest; EndpointURL must have passed
// SSRF validation before the row is written.
type AuditSink struct {
	ID              string      `db:"id" json:"id"`
	WorkspaceID     string      `db:"workspace_id" json:"workspace_id"`
	Name            string      `db:"name" json:"name"`
	Enabled         bool        `db:"enabled" json:"enabled"`
	EndpointURL     string      `db:"endpoint_url" json:"endpoint_url"`
	SecretEncrypted *string     `db:"secret_encrypted" json:"-"`
	Filter          EventFilter `db:"filter" json:"filter"`
	Retry           RetryPolicy `db:"retry" json:"retry"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// DetectionRule is a workspace-scoped anomaly rule evaluated against the
// audit stream. Condition is a tagged union; "threshold" is the only variant
// today.
type DetectionRule struct {
	ID          string        `db:"id" json:"id"`
	WorkspaceID string        `db:"workspace_id" json:"workspace_id"`
	Name        string        `db:"name" json:"name"`
	Severity    string        `db:"severity" json:"severity"`
	Condition   RuleCondition `db:"condition" json:"condition"`
	Notify      RuleNotify    `db:"notify" json:"notify"`
	Enabled     bool          `db:"enabled" json:"enabled"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// RuleCondition is the tagged union of rule condition variants.
type RuleCondition struct {
	Type      string              `json:"type"` // "threshold"
	Threshold *ThresholdCondition `json:"threshold,omitempty"`
}

// ThresholdCondition fires when an action occurs at least CountGTE times
// within WindowSec, grouped by GroupBy.
type ThresholdCondition struct {
	ActionKey string `json:"action_key"`
	WindowSec int    `json:"window_sec"` // clamped to [10, 86400]
	CountGTE  int    `json:"count_gte"`  // clamped to [1, 1000000]
	GroupBy   string `json:"group_by"`   // "actor_user_id" or "workspace"
}

// RuleNotify controls where a breach alert goes beyond the security stream.
type RuleNotify struct {
	Via             string  `json:"via"` // default "security_stream"
	SinkID          *string `json:"sink_id,omitempty"`
	MessageTemplate *string `json:"message_template,omitempty"`
}

// JSONB column support. sqlx scans these through database/sql, so the JSON
// struct types implement Valuer/Scanner pairs.

func (f EventFilter) Value() (driver.Value, error) { return json.Marshal(f) }

func (f *EventFilter) Scan(src any) error { return scanJSON(src, f) }

func (p RetryPolicy) Value() (driver.Value, error) { return json.Marshal(p) }

func (p *RetryPolicy) Scan(src any) error { return scanJSON(src, p) }

func (c RuleCondition) Value() (driver.Value, error) { return json.Marshal(c) }

func (c *RuleCondition) Scan(src any) error { return scanJSON(src, c) }

func (n RuleNotify) Value() (driver.Value, error) { return json.Marshal(n) }

func (n *RuleNotify) Scan(src any) error { return scanJSON(src, n) }

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", src)
	}
}
