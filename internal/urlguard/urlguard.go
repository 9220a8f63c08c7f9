// Package urlguard classifies URLs the assistant must not act on and
// URLs that point back at the local machine.
package urlguard

import (
	"net"
	"net/url"
	"strings"
)

var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"chrome-search://",
	"devtools://",
	"edge://",
	"view-source:",
	"about:",
	"data:",
	"blob:",
}

// IsRestricted reports whether rawURL uses a browser-internal scheme.
func IsRestricted(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	for _, prefix := range restrictedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// IsLoopback reports whether rawURL targets localhost or a loopback IP.
func IsLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Clean strips a single trailing slash.
func Clean(rawURL string) string {
	return strings.TrimSuffix(rawURL, "/")
}
