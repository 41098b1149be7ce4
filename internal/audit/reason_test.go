package audit

import (
	"strings"
	"testing"

	"github.com/contextlink/contextlink/internal/db/models"
)

func TestDeriveReasonUserVerbatim(t *testing.T) {
	d := DeriveReason("api_key.create", "  rotating leaked credential  ")
	if d.Source != models.ReasonSourceUser {
		t.Errorf("Source = %q, want user", d.Source)
	}
	if d.Reason != "rotating leaked credential" {
		t.Errorf("Reason = %q, want trimmed verbatim text", d.Reason)
	}
}

func TestDeriveReasonCapsAt500(t *testing.T) {
	long := strings.Repeat("x", 600)
	d := DeriveReason("api_key.create", long)
	if len(d.Reason) != MaxReasonLength {
		t.Errorf("len(Reason) = %d, want %d", len(d.Reason), MaxReasonLength)
	}
	if d.Source != models.ReasonSourceUser {
		t.Errorf("Source = %q, want user", d.Source)
	}
}

func TestDeriveReasonHeuristics(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{"workspace.settings.retention", "workspace settings updated by workspace administrator"},
		{"project.mapping.create", "project mapping created to route new context data"},
		{"project.mapping.update", "project mapping updated to adjust context routing"},
		{"integration.github.update", "integration configuration updated"},
		{"git.hook.push", "git hook event received from connected repository"},
		{"ci.success", "CI pipeline completed successfully"},
		{"ci.failure", "CI pipeline reported a failure"},
		{"raw.view", "raw content viewed by user with raw access"},
		{"context.search", "search performed over stored context"},
		{"document.read", "resource read by authorized user"},
		{"document.write", "resource written by authorized user"},
		{"something.else", "action something.else requested by authorized user"},
	}
	for _, tt := range tests {
		d := DeriveReason(tt.action, "")
		if d.Source != models.ReasonSourceHeuristic {
			t.Errorf("%s: Source = %q, want heuristic", tt.action, d.Source)
		}
		if d.Reason != tt.want {
			t.Errorf("%s: Reason = %q, want %q", tt.action, d.Reason, tt.want)
		}
	}
}

func TestDeriveReasonWhitespaceOnlyFallsBack(t *testing.T) {
	d := DeriveReason("ci.success", "   ")
	if d.Source != models.ReasonSourceHeuristic {
		t.Errorf("whitespace-only reason must fall back to heuristic, got %q", d.Source)
	}
}
