// Package classify decides which logical login state a console page is
// in, given its URL and a DOM-query capability.
//
// Classification is a pure function of the current (URL, DOM) pair. It
// never consults navigation history or any detected region binding, so
// repeated calls against the same snapshot always agree.
package classify

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/clawops/clawkeeper/internal/region"
)

// State is the logical login state of a page.
type State int

const (
	Unknown State = iota
	UnauthenticatedEntry
	CredentialPrompt
	DeviceVerification
	TwoFactor
	OAuthConsent
	TenantWelcome
	TenantAuthenticated
)

func (s State) String() string {
	switch s {
	case UnauthenticatedEntry:
		return "unauthenticated-entry"
	case CredentialPrompt:
		return "credential-prompt"
	case DeviceVerification:
		return "device-verification"
	case TwoFactor:
		return "two-factor"
	case OAuthConsent:
		return "oauth-consent"
	case TenantWelcome:
		return "tenant-welcome"
	case TenantAuthenticated:
		return "tenant-authenticated"
	default:
		return "unknown"
	}
}

// ProviderHost is the identity provider's host.
const ProviderHost = "github.com"

// Provider path fragments, in classification order.
const (
	oauthAuthorizePath = "/login/oauth/authorize"
	twoFactorPath      = "/sessions/two-factor"
	loginPath          = "/login"
	sessionPath        = "/session"
)

// deviceVerifyFragments appear in the URL while the provider is waiting
// for a device to be verified out-of-band.
var deviceVerifyFragments = []string{"verified-device", "device-verification"}

// probeTimeout bounds each DOM visibility check so a classification
// pass never blocks long on a single selector.
const probeTimeout = 800 * time.Millisecond

// WelcomeSelectors are the DOM affordances of the console's
// unauthenticated landing page: a welcome banner plus provider login
// buttons. The page often sits at "/" with no sign-in path segment, so
// these probes are what keep it from being mistaken for a logged-in
// console.
var WelcomeSelectors = []string{
	`//*[contains(text(), "Welcome to ClawCloud Run")]`,
	`//*[contains(text(), "Welcome to ClawCloud")]`,
	`//button[contains(., "GitHub")]`,
	`//a[contains(., "GitHub")]`,
	`//button[contains(., "Google")]`,
	`//a[contains(., "Google")]`,
}

// Probe is the minimal page capability classification needs.
type Probe interface {
	// URL returns the page's current URL.
	URL() string

	// Visible reports whether the first element matching selector is
	// visible, waiting at most timeout. Lookup errors count as not
	// visible.
	Visible(ctx context.Context, selector string, timeout time.Duration) bool
}

// Classify applies the ordered state rules to the page. First match
// wins; DOM probes run only for the tenant-welcome rule, where the URL
// alone cannot disambiguate.
func Classify(ctx context.Context, p Probe) State {
	raw := p.URL()
	u, err := url.Parse(raw)
	if err != nil {
		return Unknown
	}

	host := strings.ToLower(u.Hostname())
	path := u.Path

	if isProviderHost(host) {
		switch {
		case hasDeviceVerifyFragment(raw):
			return DeviceVerification
		case strings.HasPrefix(path, twoFactorPath):
			return TwoFactor
		case strings.HasPrefix(path, oauthAuthorizePath):
			return OAuthConsent
		case strings.HasPrefix(path, loginPath), strings.HasPrefix(path, sessionPath):
			return CredentialPrompt
		default:
			return Unknown
		}
	}

	if !region.IsTenantURL(raw) {
		return Unknown
	}

	if IsSignInPath(raw) {
		return UnauthenticatedEntry
	}

	for _, sel := range WelcomeSelectors {
		if p.Visible(ctx, sel, probeTimeout) {
			return TenantWelcome
		}
	}

	return TenantAuthenticated
}

// IsSignInPath reports whether the URL is a sign-in entry. The console
// uses /signin; non-provider hosts may also use /login.
func IsSignInPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.Contains(u.Path, "/signin") {
		return true
	}
	host := strings.ToLower(u.Hostname())
	return !isProviderHost(host) && strings.Contains(u.Path, "/login")
}

// IsMobileTwoFactorURL reports whether the provider is asking for an
// out-of-band mobile approval rather than a typed code.
func IsMobileTwoFactorURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return isProviderHost(strings.ToLower(u.Hostname())) &&
		strings.HasPrefix(u.Path, twoFactorPath+"/mobile")
}

func isProviderHost(host string) bool {
	return host == ProviderHost || strings.HasSuffix(host, "."+ProviderHost)
}

func hasDeviceVerifyFragment(rawURL string) bool {
	for _, f := range deviceVerifyFragments {
		if strings.Contains(rawURL, f) {
			return true
		}
	}
	return false
}
