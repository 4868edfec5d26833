// Package tenant extracts the tenant identifier from ticket text.
//
// A tenant is a short lowercase identifier (letters, digits, '-', '_',
// 2-50 chars) naming a customer partition of the backend. It maps 1:1 to a
// service-account email of the form customersolutions+<tenant>@<domain>.
package tenant

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	serviceEmailRe = regexp.MustCompile(`customersolutions\+([a-z0-9_-]{2,50})@`)
	labelRe        = regexp.MustCompile(`(?i)tenant:\s*([a-z0-9_-]{2,50})`)
	identRe        = regexp.MustCompile(`^[a-z0-9_-]{2,50}$`)
)

// Resolver extracts tenant identifiers from free ticket text.
type Resolver struct {
	domainRe *regexp.Regexp
}

// NewResolver creates a resolver. serviceDomain is the domain half of the
// service-account email template (may be empty, which disables the
// subdomain fallback).
func NewResolver(serviceDomain string) *Resolver {
	r := &Resolver{}
	if serviceDomain != "" {
		r.domainRe = regexp.MustCompile(
			fmt.Sprintf(`([a-z0-9_-]{2,50})\.%s`, regexp.QuoteMeta(strings.ToLower(serviceDomain))))
	}
	return r
}

// Resolve scans summary + "\n" + description in precedence order:
// service-account email, "tenant:" label, "<tenant>.<domain>" subdomain.
// Returns ("", false) when no candidate validates.
func (r *Resolver) Resolve(summary, description string) (string, bool) {
	text := strings.ToLower(summary + "\n" + description)

	for _, re := range []*regexp.Regexp{serviceEmailRe, labelRe, r.domainRe} {
		if re == nil {
			continue
		}
		if m := re.FindStringSubmatch(text); m != nil {
			if id, ok := normalize(m[1]); ok {
				return id, true
			}
		}
	}
	return "", false
}

func normalize(raw string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if !identRe.MatchString(id) {
		return "", false
	}
	return id, true
}
