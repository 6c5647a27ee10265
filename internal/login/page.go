package login

import (
	"context"
	"time"

	"github.com/clawops/clawkeeper/internal/classify"
)

// Page is the browser tab contract the engine drives. The chromedp
// wrapper satisfies it in production; tests use scripted fakes.
type Page interface {
	classify.Probe

	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Reload(ctx context.Context, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, text string, timeout time.Duration) error
	PressEnter(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	WaitSettle(ctx context.Context, timeout time.Duration) error

	// Activate clicks the first visible control among selectors and
	// returns the page the flow continues on: the same page for a
	// same-tab navigation, a new one when a popup opened. The caller
	// must adopt the returned page before reading any further state.
	Activate(ctx context.Context, selectors []string, perProbe, navTimeout time.Duration) (Page, bool, error)
}

// Channel is the out-of-band verification channel.
type Channel interface {
	Enabled() bool
	Notify(ctx context.Context, text string)
	NotifyPhoto(ctx context.Context, path, caption string)
	AwaitOperatorCode(ctx context.Context, timeout time.Duration) (string, error)
}

// Candidate selectors per control, tried in order. Text-matching
// candidates are XPath so they work through the driver's search query.
var (
	// ProviderLoginSelectors activate the console's GitHub sign-in.
	ProviderLoginSelectors = []string{
		`//button[contains(., "GitHub")]`,
		`//a[contains(., "GitHub")]`,
		`[data-provider="github"]`,
	}

	usernameSelector = `input[name="login"]`
	passwordSelector = `input[name="password"]`

	submitSelectors = []string{
		`input[type="submit"]`,
		`button[type="submit"]`,
	}

	otpSelectors = []string{
		`input[autocomplete="one-time-code"]`,
		`input[name="app_otp"]`,
		`input[name="otp"]`,
		`input#app_totp`,
		`input#otp`,
		`input[inputmode="numeric"]`,
	}

	verifySelectors = []string{
		`//button[contains(., "Verify")]`,
		`button[type="submit"]`,
		`input[type="submit"]`,
	}

	authorizeSelectors = []string{
		`button[name="authorize"]`,
		`//button[contains(., "Authorize")]`,
		`input[name="authorize"]`,
		`input[type="submit"]`,
		`//button[contains(., "Continue")]`,
		`//button[contains(., "Allow")]`,
	}
)

// FirstVisible probes candidates in order and returns the first one
// that is visible.
func FirstVisible(ctx context.Context, p Page, selectors []string, perProbe time.Duration) (string, bool) {
	for _, sel := range selectors {
		if p.Visible(ctx, sel, perProbe) {
			return sel, true
		}
	}
	return "", false
}

// ClickFirst clicks the first visible candidate. Probe and click
// failures fall through to the next candidate before giving up.
func ClickFirst(ctx context.Context, p Page, selectors []string, perProbe time.Duration) (string, bool) {
	for _, sel := range selectors {
		if !p.Visible(ctx, sel, perProbe) {
			continue
		}
		if err := p.Click(ctx, sel, perProbe); err != nil {
			continue
		}
		return sel, true
	}
	return "", false
}
