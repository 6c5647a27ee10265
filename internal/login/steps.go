package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clawops/clawkeeper/internal/classify"
	"github.com/clawops/clawkeeper/internal/pace"
)

// Timing holds every cadence and budget the engine uses. Budgets come
// from configuration; tests shrink everything to milliseconds.
type Timing struct {
	// NavTimeout bounds individual navigations and popup waits.
	NavTimeout time.Duration

	// SettleTimeout bounds post-action settle waits.
	SettleTimeout time.Duration

	// ProbeTimeout bounds one visibility probe of one selector.
	ProbeTimeout time.Duration

	// DevicePollInterval spaces device-verification reload ticks.
	DevicePollInterval time.Duration

	// DeviceWait is the device-verification budget.
	DeviceWait time.Duration

	// TwoFactorPollInterval spaces mobile-approval classification ticks.
	TwoFactorPollInterval time.Duration

	// MobileReloadEvery spaces page reloads inside the mobile wait.
	MobileReloadEvery time.Duration

	// TwoFactorWait is the two-factor budget (both sub-kinds).
	TwoFactorWait time.Duration

	// RedirectPollInterval spaces redirect-resolution ticks.
	RedirectPollInterval time.Duration

	// RedirectWait is the redirect-resolution budget.
	RedirectWait time.Duration

	// ConfirmDelay separates the provisional authenticated verdict from
	// the confirmatory second classification.
	ConfirmDelay time.Duration

	// KeepAliveJitterMin and KeepAliveJitterMax bound the random pause
	// between keep-alive visits.
	KeepAliveJitterMin time.Duration
	KeepAliveJitterMax time.Duration
}

// DefaultTiming returns production cadences with the given stage
// budgets.
func DefaultTiming(deviceWait, twoFactorWait, redirectWait time.Duration) Timing {
	return Timing{
		NavTimeout:            60 * time.Second,
		SettleTimeout:         30 * time.Second,
		ProbeTimeout:          3 * time.Second,
		DevicePollInterval:    5 * time.Second,
		DeviceWait:            deviceWait,
		TwoFactorPollInterval: 2 * time.Second,
		MobileReloadEvery:     30 * time.Second,
		TwoFactorWait:         twoFactorWait,
		RedirectPollInterval:  time.Second,
		RedirectWait:          redirectWait,
		ConfirmDelay:          2 * time.Second,
		KeepAliveJitterMin:    500 * time.Millisecond,
		KeepAliveJitterMax:    2 * time.Second,
	}
}

// submitCredentials fills the provider's login form and submits it.
func (o *Orchestrator) submitCredentials(ctx context.Context, p Page) error {
	o.RC.Logf(LevelStep, "signing in to provider as %s", o.Username)
	o.RC.Shot(ctx, p, "provider_login")

	if err := p.Fill(ctx, usernameSelector, o.Username, o.Timing.ProbeTimeout); err != nil {
		return fmt.Errorf("%w: username field: %v", ErrCredentialSubmission, err)
	}
	if err := p.Fill(ctx, passwordSelector, o.Password, o.Timing.ProbeTimeout); err != nil {
		return fmt.Errorf("%w: password field: %v", ErrCredentialSubmission, err)
	}
	o.RC.Shot(ctx, p, "provider_filled")

	if _, ok := ClickFirst(ctx, p, submitSelectors, o.Timing.ProbeTimeout); !ok {
		if err := p.PressEnter(ctx); err != nil {
			return fmt.Errorf("%w: no submit control: %v", ErrCredentialSubmission, err)
		}
	}

	_ = p.WaitSettle(ctx, o.Timing.SettleTimeout)
	o.RC.Shot(ctx, p, "provider_submitted")
	o.RC.Logf(LevelInfo, "provider responded at %s", p.URL())
	return nil
}

// waitDeviceVerification polls until the provider stops asking for
// device verification. Landing on the OAuth consent page counts as an
// accelerated success: the provider can race past the verification
// screen while a reload is in flight, and that race is benign.
func (o *Orchestrator) waitDeviceVerification(ctx context.Context, p Page) error {
	o.RC.Logf(LevelWarn, "device verification required, waiting up to %s", o.Timing.DeviceWait)
	shot := o.RC.Shot(ctx, p, "device_verification")

	o.RC.Channel.Notify(ctx, fmt.Sprintf(
		"⚠️ <b>Device verification required</b>\n\nApprove within %s:\n1️⃣ check your email for the link\n2️⃣ or approve in the provider app",
		o.Timing.DeviceWait,
	))
	if shot != "" {
		o.RC.Channel.NotifyPhoto(ctx, shot, "device verification page")
	}

	err := pace.Poll(ctx, o.Timing.DevicePollInterval, o.Timing.DeviceWait, func(ctx context.Context) (bool, error) {
		switch state := classify.Classify(ctx, p); state {
		case classify.OAuthConsent:
			o.RC.Logf(LevelSuccess, "device verified, already on consent")
			return true, nil
		case classify.DeviceVerification:
			// Transient reload errors are retried on the next tick.
			if err := p.Reload(ctx, o.Timing.NavTimeout); err != nil {
				o.RC.Logf(LevelWarn, "reload failed: %v", err)
			}
			return false, nil
		default:
			o.RC.Logf(LevelSuccess, "device verified (now %s)", state)
			return true, nil
		}
	})
	if errors.Is(err, pace.ErrBudgetExceeded) {
		o.RC.Channel.Notify(ctx, "❌ <b>Device verification timed out</b>")
		return fmt.Errorf("%w: device verification", ErrChallengeTimeout)
	}
	if err != nil {
		return err
	}

	o.RC.Channel.Notify(ctx, "✅ <b>Device verification passed</b>")
	return nil
}

// waitTwoFactor resolves the provider's second factor. The mobile
// sub-kind is approved out-of-band and only polled here; the typed
// sub-kind asks the operator for a code over the channel.
func (o *Orchestrator) waitTwoFactor(ctx context.Context, p Page) error {
	if classify.IsMobileTwoFactorURL(p.URL()) {
		return o.waitTwoFactorMobile(ctx, p)
	}
	return o.waitTwoFactorCode(ctx, p)
}

func (o *Orchestrator) waitTwoFactorMobile(ctx context.Context, p Page) error {
	o.RC.Logf(LevelWarn, "two-factor (mobile approval) required, waiting up to %s", o.Timing.TwoFactorWait)
	shot := o.RC.Shot(ctx, p, "two_factor_mobile")

	o.RC.Channel.Notify(ctx, fmt.Sprintf(
		"⚠️ <b>Two-factor required (mobile)</b>\n\nApprove this sign-in in the provider app. The digit to confirm is in the screenshot.\nWaiting %s.",
		o.Timing.TwoFactorWait,
	))
	if shot != "" {
		o.RC.Channel.NotifyPhoto(ctx, shot, "two-factor page")
	}

	lastReload := time.Now()
	err := pace.Poll(ctx, o.Timing.TwoFactorPollInterval, o.Timing.TwoFactorWait, func(ctx context.Context) (bool, error) {
		switch state := classify.Classify(ctx, p); state {
		case classify.TwoFactor:
			if time.Since(lastReload) >= o.Timing.MobileReloadEvery {
				lastReload = time.Now()
				if err := p.Reload(ctx, o.Timing.NavTimeout); err != nil {
					o.RC.Logf(LevelWarn, "reload failed: %v", err)
				}
			}
			return false, nil
		case classify.CredentialPrompt:
			return false, fmt.Errorf("%w: bounced back to credential prompt", ErrChallengeRejected)
		default:
			o.RC.Logf(LevelSuccess, "two-factor approved (now %s)", state)
			return true, nil
		}
	})
	if errors.Is(err, pace.ErrBudgetExceeded) {
		o.RC.Channel.Notify(ctx, "❌ <b>Two-factor timed out</b>")
		return fmt.Errorf("%w: mobile approval", ErrChallengeTimeout)
	}
	if err != nil {
		return err
	}

	o.RC.Channel.Notify(ctx, "✅ <b>Two-factor passed</b>")
	return nil
}

func (o *Orchestrator) waitTwoFactorCode(ctx context.Context, p Page) error {
	o.RC.Logf(LevelWarn, "two-factor code required")
	shot := o.RC.Shot(ctx, p, "two_factor_code")

	o.RC.Channel.Notify(ctx, fmt.Sprintf(
		"🔐 <b>Verification code needed</b>\n\n%s is signing in. Reply with:\n<code>/code YOUR-CODE</code>\n\nWaiting %s.",
		o.User(), o.Timing.TwoFactorWait,
	))
	if shot != "" {
		o.RC.Channel.NotifyPhoto(ctx, shot, "two-factor page")
	}

	code, err := o.RC.Channel.AwaitOperatorCode(ctx, o.Timing.TwoFactorWait)
	if err != nil {
		o.RC.Channel.Notify(ctx, "❌ <b>Timed out waiting for the code</b>")
		return fmt.Errorf("%w: operator code: %v", ErrChallengeTimeout, err)
	}

	sel, ok := FirstVisible(ctx, p, otpSelectors, o.Timing.ProbeTimeout)
	if !ok {
		o.RC.Channel.Notify(ctx, "❌ <b>Could not find the code input</b>")
		return fmt.Errorf("%w: one-time-code input", ErrEntryPointMissing)
	}
	if err := p.Fill(ctx, sel, code, o.Timing.ProbeTimeout); err != nil {
		return fmt.Errorf("%w: fill code: %v", ErrCredentialSubmission, err)
	}

	if _, ok := ClickFirst(ctx, p, verifySelectors, o.Timing.ProbeTimeout); !ok {
		// No visible submit control; the form accepts a keyboard submit.
		if err := p.PressEnter(ctx); err != nil {
			return fmt.Errorf("%w: submit code: %v", ErrCredentialSubmission, err)
		}
	}
	_ = p.WaitSettle(ctx, o.Timing.SettleTimeout)

	if classify.Classify(ctx, p) == classify.TwoFactor {
		o.RC.Channel.Notify(ctx, "❌ <b>The code was rejected</b>")
		return fmt.Errorf("%w: code rejected", ErrChallengeRejected)
	}

	o.RC.Logf(LevelSuccess, "two-factor code accepted")
	o.RC.Channel.Notify(ctx, "✅ <b>Code accepted</b>")
	return nil
}

// handleConsent activates the OAuth authorize control and returns the
// page the flow continues on (a popup becomes the active page).
func (o *Orchestrator) handleConsent(ctx context.Context, p Page) (Page, error) {
	o.RC.Logf(LevelStep, "handling OAuth consent")
	o.RC.Shot(ctx, p, "oauth_consent")

	next, popup, err := p.Activate(ctx, authorizeSelectors, o.Timing.ProbeTimeout, o.Timing.NavTimeout)
	if err != nil {
		// The provider may have auto-submitted remembered consent while
		// we probed; only fail if we are still sitting on the page.
		if classify.Classify(ctx, p) == classify.OAuthConsent {
			return p, fmt.Errorf("%w: authorize control: %v", ErrEntryPointMissing, err)
		}
		o.RC.Logf(LevelInfo, "consent resolved without a click")
		return p, nil
	}

	if popup {
		o.RC.Logf(LevelInfo, "consent continued in a new tab")
	}
	_ = next.WaitSettle(ctx, o.Timing.SettleTimeout)
	return next, nil
}
