// Package region classifies console URLs against the tenant-subdomain
// pattern and resolves which regional origin a run should target.
package region

import (
	"net/url"
	"regexp"
	"strings"
)

// SuffixDomain is the shared parent domain of all regional consoles.
const SuffixDomain = "run.claw.cloud"

// DefaultEntry is the apex console origin used when no tenant is forced
// or detected. It routes to the nearest region after sign-in.
const DefaultEntry = "https://console.run.claw.cloud"

// tenantLabel matches region-style tenant labels such as "us-east-1" or
// "ap-southeast-1". The apex and vanity subdomains (console, www) do not
// match.
var tenantLabel = regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9]+$`)

// Parse extracts the tenant id from a console URL. It returns ok=false
// for the bare apex domain, non-tenant subdomains, and anything outside
// the suffix domain.
func Parse(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == SuffixDomain || !strings.HasSuffix(host, "."+SuffixDomain) {
		return "", false
	}

	label := strings.TrimSuffix(host, "."+SuffixDomain)
	if !tenantLabel.MatchString(label) {
		return "", false
	}
	return label, true
}

// IsTenantURL reports whether rawURL points at a regional console.
func IsTenantURL(rawURL string) bool {
	_, ok := Parse(rawURL)
	return ok
}

// BaseURL constructs the canonical https origin for a tenant.
func BaseURL(tenant string) string {
	return "https://" + tenant + "." + SuffixDomain
}

// Resolver tracks which regional origin the session is bound to.
//
// An operator-forced tenant always wins. Otherwise the most recently
// detected tenant binding is used, falling back to a static default
// entry origin. The resolver is mutated only by the single orchestration
// goroutine, so it carries no locking.
type Resolver struct {
	forced   string
	detected string
	entry    string
}

// NewResolver returns a resolver with an optional operator-forced
// tenant. An empty forced value means "follow detection".
func NewResolver(forced string) *Resolver {
	return &Resolver{
		forced: strings.TrimSpace(forced),
		entry:  DefaultEntry,
	}
}

// Observe records the tenant binding from a URL, if it carries one.
// It returns the tenant id and whether one was detected.
func (r *Resolver) Observe(rawURL string) (string, bool) {
	tenant, ok := Parse(rawURL)
	if !ok {
		return "", false
	}
	r.detected = tenant
	return tenant, true
}

// Forced returns the operator-forced tenant id, or "".
func (r *Resolver) Forced() string { return r.forced }

// Detected returns the most recently observed tenant id, or "".
func (r *Resolver) Detected() string { return r.detected }

// Tenant returns the effective tenant id for reporting: forced first,
// then detected, then "".
func (r *Resolver) Tenant() string {
	if r.forced != "" {
		return r.forced
	}
	return r.detected
}

// Resolved reports whether the run has a concrete region binding,
// either forced or detected.
func (r *Resolver) Resolved() bool {
	return r.forced != "" || r.detected != ""
}

// EffectiveBase resolves the origin the run should treat as "the
// console": forced tenant, then detected tenant, then the default
// entry origin.
func (r *Resolver) EffectiveBase() string {
	if r.forced != "" {
		return BaseURL(r.forced)
	}
	if r.detected != "" {
		return BaseURL(r.detected)
	}
	return r.entry
}

// SignInURL returns the sign-in entry for the run. When a tenant is
// forced, sign-in starts on that region so the session binds there.
func (r *Resolver) SignInURL() string {
	if r.forced != "" {
		return BaseURL(r.forced) + "/signin"
	}
	return r.entry + "/signin"
}
