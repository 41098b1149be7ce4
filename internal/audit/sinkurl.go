// sinkurl.go validates audit sink endpoint URLs before they are persisted.
// Sinks receive server-side HTTP requests, so an unvalidated URL is an SSRF
// vector: a workspace admin could point a sink at the cloud metadata service
// or an internal-only endpoint. URLs carrying embedded credentials are
// rejected unconditionally; local and private destinations are rejected
// unless the environment-level development override is enabled.
package audit

import (
	"net"
	"net/url"
	"strings"

	"github.com/contextlink/contextlink/internal/apierror"
)

// NormalizeAuditSinkURL validates and normalizes a sink endpoint URL.
// allowLocal is the environment-level override permitting local/private
// destinations, intended for development only. The returned URL is trimmed.
func NormalizeAuditSinkURL(raw string, allowLocal bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", apierror.Validation("sink endpoint URL is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "", apierror.Validation("sink endpoint URL is not a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", apierror.Validation("sink endpoint URL must use http or https")
	}

	// Embedded credentials leak into request logs and proxies; never allowed,
	// override or not.
	if parsed.User != nil {
		return "", apierror.Validation("sink endpoint URL must not contain credentials")
	}

	if !allowLocal && isLocalHost(parsed.Hostname()) {
		return "", apierror.Validation("sink endpoint URL resolves to a local/private network address")
	}

	return trimmed, nil
}

// isLocalHost reports whether a hostname targets loopback, private,
// link-local, or mDNS (.local) space.
func isLocalHost(hostname string) bool {
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified()
	}
	// Hostname resolution: a name that resolves to a private address is as
	// dangerous as a literal one. Resolution failures are treated as local —
	// fail closed.
	addrs, err := net.LookupIP(hostname)
	if err != nil || len(addrs) == 0 {
		return true
	}
	for _, addr := range addrs {
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
			return true
		}
	}
	return false
}
