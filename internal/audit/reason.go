// Package audit implements the audit and security event pipeline: reason
// derivation, security classification, sink URL validation, event filtering,
// and retrying webhook delivery. Audit events are intentionally separate from
// application logs — application logs are ephemeral debug output, audit
// events are immutable records consumed by security teams with retention
// requirements measured in years.
package audit

import (
	"fmt"
	"strings"

	"github.com/contextlink/contextlink/internal/db/models"
)

// MaxReasonLength caps caller-supplied reasons.
const MaxReasonLength = 500

// DerivedReason is a reason string plus its provenance tag.
type DerivedReason struct {
	Reason string
	Source string // models.ReasonSourceUser or models.ReasonSourceHeuristic
}

// DeriveReason keeps a caller-supplied reason verbatim (trimmed, capped at
// 500 characters) or synthesizes one from the action name via fixed
// per-action-family templates. Unmatched actions fall back to a generic
// template.
func DeriveReason(action, userReason string) DerivedReason {
	trimmed := strings.TrimSpace(userReason)
	if trimmed != "" {
		if len(trimmed) > MaxReasonLength {
			trimmed = trimmed[:MaxReasonLength]
		}
		return DerivedReason{Reason: trimmed, Source: models.ReasonSourceUser}
	}
	return DerivedReason{Reason: heuristicReason(action), Source: models.ReasonSourceHeuristic}
}

func heuristicReason(action string) string {
	switch {
	case strings.HasPrefix(action, "workspace.settings."):
		return "workspace settings updated by workspace administrator"
	case action == "project.mapping.create":
		return "project mapping created to route new context data"
	case action == "project.mapping.update":
		return "project mapping updated to adjust context routing"
	case strings.HasPrefix(action, "integration.") && strings.HasSuffix(action, ".update"):
		return "integration configuration updated"
	case strings.HasPrefix(action, "git.hook."):
		return "git hook event received from connected repository"
	case action == "ci.success":
		return "CI pipeline completed successfully"
	case action == "ci.failure":
		return "CI pipeline reported a failure"
	case action == "raw.view":
		return "raw content viewed by user with raw access"
	case strings.HasSuffix(action, ".search"):
		return "search performed over stored context"
	case strings.HasSuffix(action, ".read"):
		return "resource read by authorized user"
	case strings.HasSuffix(action, ".write"):
		return "resource written by authorized user"
	default:
		return fmt.Sprintf("action %s requested by authorized user", action)
	}
}
