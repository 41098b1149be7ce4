// correlation.go builds the deterministic key identifying "this rule breached
// for this group in this time bucket". The correlation ID is the
// de-duplication key that prevents one threshold breach from generating more
// than one alert per window.
package detection

import (
	"fmt"
	"time"
)

// BuildCorrelationID produces
// "det:<ruleID>:<groupKey>:<floor(nowMillis / (windowSec*1000))>".
// It is stable for a (rule, group) pair within one time bucket and changes
// deterministically when the bucket boundary advances.
func BuildCorrelationID(ruleID, groupKey string, windowSec int, now time.Time) string {
	bucket := now.UnixMilli() / (int64(windowSec) * 1000)
	return fmt.Sprintf("det:%s:%s:%d", ruleID, groupKey, bucket)
}
