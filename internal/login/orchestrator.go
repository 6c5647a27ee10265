// Package login is the authentication orchestration engine: a
// sequential state machine that drives the browser from the console's
// sign-in entry through the provider's credential, verification, and
// consent stages, and decides with a single predicate whether the
// session is genuinely authenticated.
package login

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/clawops/clawkeeper/internal/classify"
	"github.com/clawops/clawkeeper/internal/pace"
	"github.com/clawops/clawkeeper/internal/region"
)

// maxProviderTransitions bounds the provider-stage loop so an
// oscillating page cannot spin the run forever.
const maxProviderTransitions = 8

// Orchestrator sequences the login stages. It owns exactly one active
// page at a time; popup continuations replace the active page before
// any further reads.
type Orchestrator struct {
	Username string
	Password string

	Resolver *region.Resolver
	Timing   Timing
	RC       *RunContext

	// page is the active page. Stages run strictly sequentially, so it
	// needs no locking; only Run and the activation helpers assign it.
	page Page
}

// User returns the provider account being signed in.
func (o *Orchestrator) User() string { return o.Username }

// ActivePage exposes the page the run ended on, for post-run visits.
func (o *Orchestrator) ActivePage() Page { return o.page }

// Run drives the state machine to Authenticated or a terminal failure.
// On failure it captures a screenshot, pushes a structured notification
// with the last observed classification and URL, and returns a
// *StageError; the caller maps that to a non-zero exit.
func (o *Orchestrator) Run(ctx context.Context, start Page) error {
	o.page = start

	if err := o.run(ctx); err != nil {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			stageErr = failStage("run", classify.Classify(ctx, o.page), o.page.URL(), err)
		}
		o.reportFailure(ctx, stageErr)
		return stageErr
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	// Start -> EntryLoaded
	entry := o.Resolver.SignInURL()
	o.RC.Logf(LevelStep, "opening sign-in entry %s", entry)
	if err := o.page.Navigate(ctx, entry, o.Timing.NavTimeout); err != nil {
		return failStage("entry", classify.Unknown, entry, err)
	}
	_ = o.page.WaitSettle(ctx, o.Timing.SettleTimeout)
	o.RC.Shot(ctx, o.page, "entry")
	o.RC.Logf(LevelInfo, "entry loaded at %s", o.page.URL())

	// EntryLoaded -> ProviderHandoff
	if err := o.providerHandoff(ctx); err != nil {
		return err
	}

	// ProviderHandoff -> ProviderAuthenticating -> ConsentHandled
	if err := o.authenticateProvider(ctx); err != nil {
		return err
	}

	// ConsentHandled -> Redirecting -> Authenticated
	if err := o.resolveRedirect(ctx); err != nil {
		return err
	}

	o.RC.Logf(LevelSuccess, "authenticated on %s (tenant %s)", o.page.URL(), o.Resolver.Tenant())
	return nil
}

// providerHandoff activates the console's provider login control and
// requires a popup or same-tab navigation within the budget.
func (o *Orchestrator) providerHandoff(ctx context.Context) error {
	o.RC.Logf(LevelStep, "activating provider login")

	next, popup, err := o.page.Activate(ctx, ProviderLoginSelectors, o.Timing.ProbeTimeout, o.Timing.NavTimeout)
	if err != nil {
		o.RC.Shot(ctx, o.page, "provider_handoff_failed")
		return failStage("provider-handoff", classify.Classify(ctx, o.page), o.page.URL(),
			fmt.Errorf("%w: %v", ErrEntryPointMissing, err))
	}

	// Adopt the continuation page before any further reads.
	o.page = next
	if popup {
		o.RC.Logf(LevelInfo, "provider login opened a new tab")
	}
	_ = o.page.WaitSettle(ctx, o.Timing.SettleTimeout)
	o.RC.Shot(ctx, o.page, "after_provider_click")
	o.RC.Logf(LevelInfo, "handoff landed on %s", o.page.URL())
	return nil
}

// authenticateProvider loops the provider stages (credentials, device
// verification, two-factor) until classification leaves the provider,
// handling consent when it appears.
func (o *Orchestrator) authenticateProvider(ctx context.Context) error {
	submitted := false
	unknownStreak := 0

	for i := 0; i < maxProviderTransitions; i++ {
		state := classify.Classify(ctx, o.page)
		o.RC.Logf(LevelInfo, "provider stage: %s", state)

		switch state {
		case classify.CredentialPrompt:
			if submitted {
				return failStage("provider-auth", state, o.page.URL(),
					fmt.Errorf("%w: returned to credential prompt after submit", ErrChallengeRejected))
			}
			if err := o.submitCredentials(ctx, o.page); err != nil {
				return failStage("credentials", state, o.page.URL(), err)
			}
			submitted = true

		case classify.DeviceVerification:
			if err := o.waitDeviceVerification(ctx, o.page); err != nil {
				return failStage("device-verification", state, o.page.URL(), err)
			}

		case classify.TwoFactor:
			if err := o.waitTwoFactor(ctx, o.page); err != nil {
				return failStage("two-factor", state, o.page.URL(), err)
			}

		case classify.OAuthConsent:
			next, err := o.handleConsent(ctx, o.page)
			o.page = next
			if err != nil {
				return failStage("consent", state, o.page.URL(), err)
			}
			return nil

		case classify.Unknown:
			unknownStreak++
			if unknownStreak >= 3 {
				return failStage("provider-auth", state, o.page.URL(), ErrClassificationAmbiguous)
			}
			_ = pace.Sleep(ctx, o.Timing.RedirectPollInterval)

		default:
			// Already back on the console; consent was remembered.
			o.RC.Logf(LevelInfo, "provider flow already complete (%s)", state)
			return nil
		}

		if state != classify.Unknown {
			unknownStreak = 0
		}
	}

	return failStage("provider-auth", classify.Classify(ctx, o.page), o.page.URL(),
		fmt.Errorf("%w: provider flow did not converge", ErrClassificationAmbiguous))
}

// resolveRedirect polls until the console reports an authenticated
// page, re-triggering the provider login control when the redirect
// bounces back to an unauthenticated console page, then confirms the
// verdict with a second classification pass.
func (o *Orchestrator) resolveRedirect(ctx context.Context) error {
	o.RC.Logf(LevelStep, "waiting for console redirect")

	lastState := classify.Unknown
	err := pace.Poll(ctx, o.Timing.RedirectPollInterval, o.Timing.RedirectWait, func(ctx context.Context) (bool, error) {
		url := o.page.URL()
		if tenant, ok := o.Resolver.Observe(url); ok {
			o.RC.Logf(LevelInfo, "bound to tenant %s", tenant)
		}

		state := classify.Classify(ctx, o.page)
		lastState = state

		switch state {
		case classify.TenantAuthenticated:
			return true, nil

		case classify.OAuthConsent:
			// Late consent bounce: handle it and keep polling.
			next, err := o.handleConsent(ctx, o.page)
			o.page = next
			if err != nil {
				return false, err
			}

		case classify.TenantWelcome, classify.UnauthenticatedEntry:
			// Self-heal: the console dropped the session handoff, so
			// re-trigger its provider login control.
			o.RC.Logf(LevelWarn, "console still unauthenticated (%s), re-triggering provider login", state)
			if _, ok := ClickFirst(ctx, o.page, ProviderLoginSelectors, o.Timing.ProbeTimeout); ok {
				_ = o.page.WaitSettle(ctx, o.Timing.SettleTimeout)
			}
		}
		return false, nil
	})
	if errors.Is(err, pace.ErrBudgetExceeded) {
		o.RC.Shot(ctx, o.page, "redirect_timeout")
		return failStage("redirect", lastState, o.page.URL(),
			fmt.Errorf("%w: redirect did not resolve (last state %s)", ErrChallengeTimeout, lastState))
	}
	if err != nil {
		return failStage("redirect", lastState, o.page.URL(), err)
	}

	o.RC.Shot(ctx, o.page, "redirect_ok")

	// A single neutral pass is a weak signal; require a second
	// classification after the page has had a moment to hydrate.
	_ = pace.Sleep(ctx, o.Timing.ConfirmDelay)
	o.Resolver.Observe(o.page.URL())
	if state := classify.Classify(ctx, o.page); state != classify.TenantAuthenticated {
		o.RC.Shot(ctx, o.page, "confirm_failed")
		return failStage("confirm", state, o.page.URL(),
			fmt.Errorf("%w: confirmation pass saw %s", ErrClassificationAmbiguous, state))
	}
	if !o.Resolver.Resolved() {
		return failStage("confirm", classify.TenantAuthenticated, o.page.URL(),
			fmt.Errorf("%w: no region binding resolved", ErrClassificationAmbiguous))
	}
	return nil
}

// KeepAlive visits the effective console base plus any extra tenants.
// The visits refresh server-side session activity only; they never
// change the run's verdict, and every error inside is soft.
func (o *Orchestrator) KeepAlive(ctx context.Context, extraTenants []string) {
	bases := []string{o.Resolver.EffectiveBase()}
	for _, tenant := range extraTenants {
		base := region.BaseURL(tenant)
		if !region.IsTenantURL(base) {
			o.RC.Logf(LevelWarn, "skipping keep-alive target %q: not a tenant label", tenant)
			continue
		}
		if !slices.Contains(bases, base) {
			bases = append(bases, base)
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, base := range bases {
		for _, path := range []string{"/", "/apps"} {
			url := base + path
			if err := o.page.Navigate(ctx, url, o.Timing.NavTimeout); err != nil {
				o.RC.Logf(LevelWarn, "keep-alive visit %s failed: %v", url, err)
				continue
			}
			_ = o.page.WaitSettle(ctx, o.Timing.SettleTimeout)
			o.Resolver.Observe(o.page.URL())
			o.RC.Logf(LevelSuccess, "visited %s -> %s", url, o.page.URL())

			if d, err := pace.Jitter(o.Timing.KeepAliveJitterMin, o.Timing.KeepAliveJitterMax, rng); err == nil {
				_ = pace.Sleep(ctx, d)
			}
		}
	}
	o.RC.Shot(ctx, o.page, "keepalive_done")
}

// reportFailure captures the terminal screenshot and pushes the
// structured failure notification.
func (o *Orchestrator) reportFailure(ctx context.Context, stageErr *StageError) {
	o.RC.Logf(LevelError, "run failed: %v", stageErr)
	shot := o.RC.Shot(ctx, o.page, "failed_"+stageErr.Stage)

	msg := fmt.Sprintf(
		"<b>🤖 Console auto-login</b>\n\n<b>Status:</b> ❌ failed\n<b>Stage:</b> %s\n<b>State:</b> %s\n<b>URL:</b> %s\n<b>User:</b> %s\n<b>Run:</b> %s",
		stageErr.Stage, stageErr.State, stageErr.URL, o.Username, o.RC.ID,
	)
	for _, line := range o.RC.Tail(6) {
		msg += "\n" + line
	}
	o.RC.Channel.Notify(ctx, msg)
	if shot != "" {
		o.RC.Channel.NotifyPhoto(ctx, shot, "failure screenshot")
	}
}

// ReportSuccess pushes the closing status notification.
func (o *Orchestrator) ReportSuccess(ctx context.Context) {
	tenant := o.Resolver.Tenant()
	if tenant == "" {
		tenant = "undetected"
	}
	msg := fmt.Sprintf(
		"<b>🤖 Console auto-login</b>\n\n<b>Status:</b> ✅ success\n<b>User:</b> %s\n<b>Tenant:</b> %s\n<b>Time:</b> %s\n<b>Run:</b> %s",
		o.Username, tenant, time.Now().Format("2006-01-02 15:04:05"), o.RC.ID,
	)
	for _, line := range o.RC.Tail(6) {
		msg += "\n" + line
	}
	o.RC.Channel.Notify(ctx, msg)
	if shot := o.RC.LastShot(); shot != "" {
		o.RC.Channel.NotifyPhoto(ctx, shot, "final state")
	}
}
