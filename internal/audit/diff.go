// diff.go reports which fields changed in an update so audit events record
// only the touched keys, never the values.
package audit

import (
	"reflect"
	"sort"
)

// DiffFields returns the sorted set of top-level keys whose values differ
// between before and after, including keys present on only one side.
// Comparison is structural (reflect.DeepEqual), so re-ordered object keys do
// not register as changes.
func DiffFields(before, after map[string]any) []string {
	changed := make([]string, 0)
	for key, beforeVal := range before {
		afterVal, ok := after[key]
		if !ok || !reflect.DeepEqual(beforeVal, afterVal) {
			changed = append(changed, key)
		}
	}
	for key := range after {
		if _, ok := before[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}
