// Package rewrite implements the request-rewrite rule matcher: an
// ordered list of (domain?, path-glob, enabled, request-body?,
// response-body?) rules, the first enabled match winning.
package rewrite

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/relaywire/proxy/internal/domain"
)

// compiledRule caches the glob.Glob compiled from a rule's PathGlob,
// since rules are read-only during an exchange and reused across many
// requests.
type compiledRule struct {
	rule domain.RewriteRule
	g    glob.Glob
}

// Matcher holds a compiled, read-only snapshot of a RewriteRules
// value. Callers take a fresh Matcher per configuration snapshot
// (copy-on-write) rather than mutating one in place.
type Matcher struct {
	mu      sync.Mutex
	enabled bool
	rules   []compiledRule
}

// Compile builds a Matcher from a RewriteRules snapshot. Rules with an
// empty PathGlob are skipped — such an entry is an inert no-op rather
// than a panic.
func Compile(rules domain.RewriteRules) *Matcher {
	m := &Matcher{enabled: rules.Enabled}
	for _, r := range rules.Rules {
		if r.PathGlob == "" {
			continue
		}
		g, err := glob.Compile(translatePathGlob(r.PathGlob), '/')
		if err != nil {
			continue
		}
		m.rules = append(m.rules, compiledRule{rule: r, g: g})
	}
	return m
}

// translatePathGlob turns the configured glob language ("*" matches any
// run, including empty, of non-"/" characters — unless the "*" is at
// the end of the pattern, in which case it matches to end-of-path)
// into gobwas/glob syntax, where "*" already means "any run of
// non-separator characters" and "**" means "any run including
// separators". A trailing "*" is rewritten to "**" so it matches to
// end-of-path, crossing further "/" characters.
func translatePathGlob(pattern string) string {
	if strings.HasSuffix(pattern, "*") && !strings.HasSuffix(pattern, "**") {
		return pattern[:len(pattern)-1] + "**"
	}
	return pattern
}

// Match returns the first enabled rule whose domain and path-glob both
// match the given host and path, or false if none do.
func (m *Matcher) Match(host, path string) (*domain.RewriteRule, bool) {
	if !m.enabled {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		cr := &m.rules[i]
		if !cr.rule.Enabled {
			continue
		}
		if !domainMatches(cr.rule.Domain, host) {
			continue
		}
		if !cr.g.Match(path) {
			continue
		}
		rule := cr.rule
		return &rule, true
	}
	return nil, false
}

// domainMatches implements the equality-plus-subdomain predicate: an
// empty rule.domain matches any host; otherwise the host must equal
// it case-insensitively, or end with "."+domain.
func domainMatches(ruleDomain, host string) bool {
	if ruleDomain == "" {
		return true
	}
	ruleDomain = strings.ToLower(ruleDomain)
	host = strings.ToLower(host)
	if host == ruleDomain {
		return true
	}
	return strings.HasSuffix(host, "."+ruleDomain)
}

// DomainMatches exposes the domain-matching predicate directly for
// unit testing.
func DomainMatches(ruleDomain, host string) bool {
	return domainMatches(ruleDomain, host)
}
