package rules

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDomain rejects domains that cannot form a filter criteria.
var ErrInvalidDomain = errors.New("invalid sender domain")

// NormalizeDomain canonicalizes a sender domain: trimmed, lowercased, no
// leading @. It rejects empty input and input with whitespace inside.
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "@")
	if d == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if strings.ContainsAny(d, " \t\r\n") {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidDomain, domain)
	}
	if !strings.Contains(d, ".") {
		return "", fmt.Errorf("%w: %q has no dot", ErrInvalidDomain, domain)
	}
	return d, nil
}

// ParseCriteria splits a filter's `from` expression (`@a.com OR @b.com`)
// into its domain set, preserving first-seen order and dropping duplicates
// and malformed terms.
func ParseCriteria(from string) []string {
	var domains []string
	seen := make(map[string]bool)
	for _, term := range strings.Split(from, " OR ") {
		d, err := NormalizeDomain(term)
		if err != nil {
			continue
		}
		if !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}
	return domains
}

// SerializeCriteria renders a domain set back into the `from` expression
// Gmail filters understand.
func SerializeCriteria(domains []string) string {
	terms := make([]string, len(domains))
	for i, d := range domains {
		terms[i] = "@" + d
	}
	return strings.Join(terms, " OR ")
}

// MergeDomain unions a normalized domain into a domain set. The second
// return reports whether the set actually grew.
func MergeDomain(domains []string, domain string) ([]string, bool) {
	for _, d := range domains {
		if d == domain {
			return domains, false
		}
	}
	return append(domains, domain), true
}
