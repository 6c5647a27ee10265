package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawops/clawkeeper/internal/browser"
	"github.com/clawops/clawkeeper/internal/config"
	"github.com/clawops/clawkeeper/internal/login"
	"github.com/clawops/clawkeeper/internal/region"
	"github.com/clawops/clawkeeper/internal/rotation"
	"github.com/clawops/clawkeeper/internal/secrets"
	"github.com/clawops/clawkeeper/internal/telegram"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run one unattended sign-in and rotate the session cookie",
	Long: `Runs the full authentication flow once: open the console's sign-in
entry, hand off to GitHub, resolve any device-verification or
two-factor challenge with the operator, confirm the authenticated
console, and rotate the session cookie into the configured secret.

Examples:
  clawkeeper login
  clawkeeper login --region us-east-1 --headed
  clawkeeper login --skip-rotation
`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().String("region", "", "pin the run to one tenant (overrides CLAW_REGION)")
	loginCmd.Flags().Bool("headed", false, "run the browser with a visible window")
	loginCmd.Flags().String("screenshot-dir", "", "directory for step screenshots")
	loginCmd.Flags().String("secret-name", rotation.DefaultSecretName, "repository secret receiving the cookie")
	loginCmd.Flags().Bool("skip-rotation", false, "authenticate and keep alive only, leave the secret untouched")
	loginCmd.Flags().Bool("skip-keepalive", false, "skip post-authentication keep-alive visits")
	rootCmd.AddCommand(loginCmd)
}

// pageTab adapts a browser tab to the orchestration page contract. The
// only seam is Activate, whose continuation tab must come back wrapped.
type pageTab struct {
	*browser.Tab
}

func (p *pageTab) Activate(ctx context.Context, selectors []string, perProbe, navTimeout time.Duration) (login.Page, bool, error) {
	tab, popup, err := p.Tab.Activate(ctx, selectors, perProbe, navTimeout)
	if err != nil {
		return p, popup, err
	}
	return &pageTab{Tab: tab}, popup, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	forcedRegion, _ := cmd.Flags().GetString("region")
	headed, _ := cmd.Flags().GetBool("headed")
	shotDir, _ := cmd.Flags().GetString("screenshot-dir")
	secretName, _ := cmd.Flags().GetString("secret-name")
	skipRotation, _ := cmd.Flags().GetBool("skip-rotation")
	skipKeepAlive, _ := cmd.Flags().GetBool("skip-keepalive")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if forcedRegion != "" {
		cfg.ForcedRegion = forcedRegion
	}
	if headed {
		cfg.Headless = false
	}
	if shotDir != "" {
		cfg.ScreenshotDir = shotDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()

	ch := telegram.New(cfg.TelegramToken, cfg.TelegramChatID)
	ch.Logf = func(format string, a ...any) {
		fmt.Printf("⚠️ "+format+"\n", a...)
	}
	if !ch.Enabled() {
		fmt.Println("⚠️ Telegram not configured: challenges that need an operator will time out")
	}

	var store *secrets.Store
	if cfg.StoreConfigured() {
		store, err = secrets.NewStore(ctx, cfg.RepoToken, cfg.Repository)
		if err != nil {
			fmt.Printf("⚠️ secret store unavailable: %v\n", err)
		}
	}

	sess, err := browser.NewSession(ctx, browser.Options{Headless: cfg.Headless})
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer sess.Close()

	// A still-valid cookie lets the provider skip every challenge.
	if cfg.SessionCookie != "" {
		seed := []browser.Cookie{
			{
				Name:   rotation.SessionCookieName,
				Value:  cfg.SessionCookie,
				Domain: rotation.ProviderDomain,
			},
			{
				Name:   "logged_in",
				Value:  "yes",
				Domain: rotation.ProviderDomain,
			},
		}
		if err := sess.SeedCookies(ctx, seed); err != nil {
			fmt.Printf("⚠️ could not seed session cookie: %v\n", err)
		}
	}

	rc := login.NewRunContext(cfg.Username, ch, cfg.ScreenshotDir)
	o := &login.Orchestrator{
		Username: cfg.Username,
		Password: cfg.Password,
		Resolver: region.NewResolver(cfg.ForcedRegion),
		Timing:   login.DefaultTiming(cfg.DeviceVerifyWait, cfg.TwoFactorWait, cfg.RedirectWait),
		RC:       rc,
	}

	runErr := o.Run(ctx, &pageTab{Tab: sess.FirstTab()})
	if runErr == nil && !skipKeepAlive {
		o.KeepAlive(ctx, cfg.KeepAliveRegions)
	}

	if err := finishRun(ctx, runErr, skipRotation, sess, store, ch, rc, secretName); err != nil {
		return err
	}

	o.ReportSuccess(ctx)
	return nil
}

// cookieSource reads the browser's cookie jar after the run.
type cookieSource interface {
	Cookies(ctx context.Context) ([]browser.Cookie, error)
}

// finishRun settles the run outcome. A failed run returns its error
// without ever touching the cookie jar; an authenticated run rotates
// the session cookie at most once, and rotation problems never turn it
// into a failure.
func finishRun(ctx context.Context, runErr error, skipRotation bool, src cookieSource, store rotation.SecretStore, ch rotation.Notifier, rc *login.RunContext, secretName string) error {
	if runErr != nil {
		return runErr
	}
	if !skipRotation {
		rotateSession(ctx, src, store, ch, rc, secretName)
	}
	return nil
}

// rotateSession extracts the provider session cookie and hands it to
// the rotator. Rotation problems are reported but never turn an
// authenticated run into a failure.
func rotateSession(ctx context.Context, src cookieSource, store rotation.SecretStore, ch rotation.Notifier, rc *login.RunContext, secretName string) {
	raw, err := src.Cookies(ctx)
	if err != nil {
		rc.Logf(login.LevelWarn, "could not read cookies: %v", err)
		return
	}

	cookies := make([]rotation.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, rotation.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}

	cred := rotation.ExtractCredential(cookies)
	if cred == "" {
		rc.Logf(login.LevelWarn, "no %s cookie found, nothing to rotate", rotation.SessionCookieName)
		return
	}

	rot := &rotation.Rotator{
		Store:      store,
		Channel:    ch,
		SecretName: secretName,
		Logf: func(format string, a ...any) {
			rc.Logf(login.LevelInfo, format, a...)
		},
	}
	if err := rot.Rotate(ctx, cred); err != nil {
		if errors.Is(err, rotation.ErrRotationFailed) {
			rc.Logf(login.LevelWarn, "rotation degraded: %v", err)
			return
		}
		rc.Logf(login.LevelWarn, "rotation failed: %v", err)
	}
}
