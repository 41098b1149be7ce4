// classify.go marks events as security-sensitive. Classification is a pure
// function of the action string and is evaluated independently of sink
// filtering — an administrator's exclude list can still drop a
// security-classified event from a sink (exclusion is authoritative), but the
// classification itself never changes.
package audit

import "strings"

// securityPrefixes is the fixed allowlist of security-sensitive action-name
// prefixes.
var securityPrefixes = []string{
	"auth.",
	"access.",
	"api_key.",
	"oidc.",
	"github.permissions.",
	"security.",
	"raw.",
	"audit.",
}

// IsSecurityAction reports whether an action is security-sensitive.
func IsSecurityAction(action string) bool {
	for _, prefix := range securityPrefixes {
		if strings.HasPrefix(action, prefix) {
			return true
		}
	}
	return false
}
