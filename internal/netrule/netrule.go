// Package netrule holds the single dynamic header-rewrite rule applied to
// outgoing requests. Local model servers reject cross-origin requests unless
// the Origin header matches their own host, so requests to such a host are
// rewritten to carry it.
package netrule

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"sidepanel/internal/logging"
)

// RuleID is the fixed id of the one rule slot. Every update replaces it.
const RuleID = 1

// Rule sets Header to Value on requests whose host is one of RequestDomains
// (or a subdomain of one).
type Rule struct {
	ID             int
	Priority       int
	RequestDomains []string
	Header         string
	Value          string
}

// Matches reports whether the rule applies to host.
func (r Rule) Matches(host string) bool {
	host = strings.ToLower(host)
	for _, d := range r.RequestDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Table is the rule slot. The zero value is an empty table.
type Table struct {
	mu   sync.RWMutex
	rule *Rule
}

// NewTable returns an empty rule table.
func NewTable() *Table {
	return &Table{}
}

// UpdateOrigin replaces the slot with a rule that sets Origin to the
// scheme and hostname of rawURL for requests to that hostname.
func (t *Table) UpdateOrigin(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Scheme == "chrome" {
		return nil
	}
	if u.Hostname() == "" {
		return fmt.Errorf("no host in %q", rawURL)
	}

	rule := &Rule{
		ID:             RuleID,
		Priority:       1,
		RequestDomains: []string{u.Hostname()},
		Header:         "Origin",
		Value:          fmt.Sprintf("%s://%s", u.Scheme, u.Hostname()),
	}

	t.mu.Lock()
	t.rule = rule
	t.mu.Unlock()

	logging.APIDebug("origin rule %d set: %s -> %s", RuleID, u.Hostname(), rule.Value)
	return nil
}

// Current returns the active rule, if any.
func (t *Table) Current() (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rule == nil {
		return Rule{}, false
	}
	return *t.rule, true
}

// Clear empties the slot.
func (t *Table) Clear() {
	t.mu.Lock()
	t.rule = nil
	t.mu.Unlock()
}

// Transport wraps base so every request consults the table. A nil base uses
// http.DefaultTransport.
func (t *Table) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{table: t, base: base}
}

// Client returns an http.Client using the rewriting transport.
func (t *Table) Client() *http.Client {
	return &http.Client{Transport: t.Transport(nil)}
}

type transport struct {
	table *Table
	base  http.RoundTripper
}

func (rt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	rule, ok := rt.table.Current()
	if !ok || !rule.Matches(req.URL.Hostname()) {
		return rt.base.RoundTrip(req)
	}
	// RoundTrippers must not mutate the caller's request.
	clone := req.Clone(req.Context())
	clone.Header.Set(rule.Header, rule.Value)
	return rt.base.RoundTrip(clone)
}
