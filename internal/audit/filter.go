// filter.go decides whether a sink receives an event.
package audit

import (
	"strings"

	"github.com/contextlink/contextlink/internal/db/models"
)

// FilterMatches reports whether an action passes a sink's event filter: the
// action must match an include prefix (an empty include list means "all") and
// must not appear in the exclude list. Exclusion is authoritative — it drops
// security-classified events too, because the filter expresses administrator
// intent.
func FilterMatches(filter models.EventFilter, action string) bool {
	for _, excluded := range filter.ExcludeActions {
		if action == excluded {
			return false
		}
	}
	if len(filter.IncludePrefixes) == 0 {
		return true
	}
	for _, prefix := range filter.IncludePrefixes {
		if strings.HasPrefix(action, prefix) {
			return true
		}
	}
	return false
}
