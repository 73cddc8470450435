// Package domains checks hostnames against project allow-lists. It guards the
// image source (the gateway must not be usable to fetch arbitrary hosts) and
// the referring page (hotlinking).
package domains

import (
	"net/url"
	"strings"
)

// IsAllowed reports whether hostname equals, or is a subdomain of, an entry
// in allow. A nil or empty list allows everything.
func IsAllowed(hostname string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}

	host := normalize(hostname)
	if host == "" {
		return false
	}
	for _, d := range allow {
		d = normalize(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// HostFromURL returns the hostname of raw with scheme, userinfo, port and path
// removed. A URL without a scheme is read as https.
func HostFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := normalize(u.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

// AllowedURL checks the host of raw against allow. URLs without a usable
// host are rejected even when the list allows everything.
func AllowedURL(raw string, allow []string) bool {
	host, ok := HostFromURL(raw)
	if !ok {
		return false
	}
	return IsAllowed(host, allow)
}

func normalize(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
