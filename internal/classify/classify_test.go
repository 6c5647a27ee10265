package classify

import (
	"context"
	"testing"
	"time"
)

// fakeProbe is a page snapshot: a URL plus the set of selectors that
// would be visible.
type fakeProbe struct {
	url     string
	visible map[string]bool
	probes  int
}

func (f *fakeProbe) URL() string { return f.url }

func (f *fakeProbe) Visible(_ context.Context, selector string, _ time.Duration) bool {
	f.probes++
	return f.visible[selector]
}

func TestClassify_ProviderStates(t *testing.T) {
	cases := []struct {
		url  string
		want State
	}{
		{"https://github.com/sessions/verified-device", DeviceVerification},
		{"https://github.com/login/device-verification", DeviceVerification},
		{"https://github.com/sessions/two-factor/app", TwoFactor},
		{"https://github.com/sessions/two-factor/mobile", TwoFactor},
		{"https://github.com/login/oauth/authorize?client_id=x", OAuthConsent},
		{"https://github.com/login", CredentialPrompt},
		{"https://github.com/session", CredentialPrompt},
		{"https://github.com/settings", Unknown},
	}

	for _, tc := range cases {
		p := &fakeProbe{url: tc.url}
		if got := Classify(context.Background(), p); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestClassify_SignInPathAlwaysEntry(t *testing.T) {
	// Even a DOM that looks authenticated must not override /signin.
	p := &fakeProbe{
		url:     "https://us-east-1.run.claw.cloud/signin",
		visible: map[string]bool{},
	}
	if got := Classify(context.Background(), p); got != UnauthenticatedEntry {
		t.Errorf("Classify(/signin) = %v, want UnauthenticatedEntry", got)
	}
	if p.probes != 0 {
		t.Errorf("classification of /signin ran %d DOM probes, want 0", p.probes)
	}
}

func TestClassify_WelcomeTrap(t *testing.T) {
	// A tenant root page exposing provider-login buttons is an
	// unauthenticated landing page, not a logged-in console, even though
	// its URL carries no /signin segment.
	for _, sel := range WelcomeSelectors {
		p := &fakeProbe{
			url:     "https://ap-southeast-1.run.claw.cloud/",
			visible: map[string]bool{sel: true},
		}
		if got := Classify(context.Background(), p); got != TenantWelcome {
			t.Errorf("Classify with visible %q = %v, want TenantWelcome", sel, got)
		}
	}
}

func TestClassify_TenantAuthenticated(t *testing.T) {
	p := &fakeProbe{url: "https://us-east-1.run.claw.cloud/apps"}
	if got := Classify(context.Background(), p); got != TenantAuthenticated {
		t.Errorf("Classify = %v, want TenantAuthenticated", got)
	}
}

func TestClassify_Unknown(t *testing.T) {
	cases := []string{
		"https://example.com/",
		"https://run.claw.cloud/",
		"https://console.run.claw.cloud/",
		"://bad",
	}
	for _, raw := range cases {
		p := &fakeProbe{url: raw}
		if got := Classify(context.Background(), p); got != Unknown {
			t.Errorf("Classify(%q) = %v, want Unknown", raw, got)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	p := &fakeProbe{
		url: "https://us-east-1.run.claw.cloud/",
		visible: map[string]bool{
			`//button[contains(., "GitHub")]`: true,
		},
	}
	first := Classify(context.Background(), p)
	for i := 0; i < 5; i++ {
		if got := Classify(context.Background(), p); got != first {
			t.Fatalf("classification changed between identical snapshots: %v then %v", first, got)
		}
	}
}

func TestIsSignInPath(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://us-east-1.run.claw.cloud/signin", true},
		{"https://console.run.claw.cloud/signin?redirect=/apps", true},
		{"https://us-east-1.run.claw.cloud/login", true},
		{"https://github.com/login", false}, // provider /login is a credential prompt, not console sign-in
		{"https://us-east-1.run.claw.cloud/apps", false},
	}
	for _, tc := range cases {
		if got := IsSignInPath(tc.url); got != tc.want {
			t.Errorf("IsSignInPath(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestIsMobileTwoFactorURL(t *testing.T) {
	if !IsMobileTwoFactorURL("https://github.com/sessions/two-factor/mobile") {
		t.Error("mobile two-factor URL should match")
	}
	if IsMobileTwoFactorURL("https://github.com/sessions/two-factor/app") {
		t.Error("app two-factor URL should not match mobile")
	}
}

func TestStateString(t *testing.T) {
	if TenantWelcome.String() != "tenant-welcome" {
		t.Errorf("TenantWelcome.String() = %q", TenantWelcome.String())
	}
	if State(99).String() != "unknown" {
		t.Errorf("out-of-range state should render unknown")
	}
}
