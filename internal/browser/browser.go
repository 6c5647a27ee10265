// Package browser wraps chromedp with the small set of primitives the
// login engine needs: navigation, visibility probes, click/fill,
// cookie access, screenshots, and popup-aware control activation.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// ErrNoControl is returned when none of the candidate selectors for a
// control became visible.
var ErrNoControl = errors.New("no matching control found")

// ErrNoNavigation is returned when activating a control produced
// neither a popup nor a same-tab navigation within the wait budget.
var ErrNoNavigation = errors.New("control activation did not navigate")

// Cookie is one entry from the browser's cookie jar.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Options configures the launched browser.
type Options struct {
	Headless  bool
	UserAgent string
	Width     int
	Height    int
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Session owns a launched Chrome instance and its first tab.
type Session struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewSession launches Chrome and attaches to its initial tab.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Width <= 0 {
		opts.Width = 1920
	}
	if opts.Height <= 0 {
		opts.Height = 1080
	}

	flags := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags = append(flags,
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.Width, opts.Height),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, flags...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser process eagerly so failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &Session{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close tears down the browser. Tabs are only ever closed here, at
// process exit.
func (s *Session) Close() {
	s.browserCancel()
	s.allocCancel()
}

// FirstTab returns the session's initial tab.
func (s *Session) FirstTab() *Tab {
	return &Tab{ctx: s.browserCtx}
}

// Cookies returns the full cookie jar across all domains.
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, 15*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookie jar: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return cookies, nil
}

// SeedCookies installs cookies into the jar before navigation, used to
// resume a previous provider session.
func (s *Session) SeedCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &network.CookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   path,
		})
	}

	err := s.run(ctx, 15*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("seed cookies: %w", err)
	}
	return nil
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	return runBounded(s.browserCtx, ctx, timeout, actions...)
}

// Tab is one page of the session. All methods bound their own CDP
// round-trips so a wedged renderer cannot stall the engine.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// URL returns the tab's current URL, or "" if it cannot be read.
func (t *Tab) URL() string {
	var u string
	if err := runBounded(t.ctx, context.Background(), 3*time.Second, chromedp.Location(&u)); err != nil {
		return ""
	}
	return u
}

// Navigate loads url and waits for the load event, bounded by timeout.
func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return runBounded(t.ctx, ctx, timeout, chromedp.Navigate(url))
}

// Reload reloads the current page, bounded by timeout.
func (t *Tab) Reload(ctx context.Context, timeout time.Duration) error {
	return runBounded(t.ctx, ctx, timeout, chromedp.Reload())
}

// Visible reports whether the first element matching selector becomes
// visible within timeout. Selectors may be CSS or XPath.
func (t *Tab) Visible(ctx context.Context, selector string, timeout time.Duration) bool {
	err := runBounded(t.ctx, ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch))
	return err == nil
}

// Click clicks the first element matching selector.
func (t *Tab) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return runBounded(t.ctx, ctx, timeout, chromedp.Click(selector, chromedp.BySearch))
}

// Fill clears the first element matching selector and types text into it.
func (t *Tab) Fill(ctx context.Context, selector, text string, timeout time.Duration) error {
	return runBounded(t.ctx, ctx, timeout,
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, text, chromedp.BySearch),
	)
}

// PressEnter sends an Enter key event to the focused element.
func (t *Tab) PressEnter(ctx context.Context) error {
	return runBounded(t.ctx, ctx, 5*time.Second, chromedp.KeyEvent(kb.Enter))
}

// Screenshot captures the viewport to path.
func (t *Tab) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := runBounded(t.ctx, ctx, 15*time.Second, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// WaitSettle waits, best effort, until the page stops navigating: the
// document is ready and the URL holds still for two consecutive reads.
// It never returns an error for a page that is merely slow.
func (t *Tab) WaitSettle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	// Ignore readiness errors; some interstitials never fire load.
	_ = runBounded(t.ctx, ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery))

	last := t.URL()
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
			return err
		}
		cur := t.URL()
		if cur != "" && cur == last {
			return nil
		}
		last = cur
	}
	return nil
}

// Activate clicks the first visible control among selectors and
// resolves how the flow continued: a popup hands back the new tab
// (popup=true), a same-tab navigation hands back the same tab. The
// returned tab is the page to use next; callers must not keep reading
// the old one.
func (t *Tab) Activate(ctx context.Context, selectors []string, perProbe, navTimeout time.Duration) (*Tab, bool, error) {
	startURL := t.URL()

	// Listen for popups before clicking or the target event can race past.
	newTarget := chromedp.WaitNewTarget(t.ctx, func(info *target.Info) bool {
		return info.URL != ""
	})

	clicked := false
	for _, sel := range selectors {
		if !t.Visible(ctx, sel, perProbe) {
			continue
		}
		if err := t.Click(ctx, sel, perProbe); err != nil {
			continue
		}
		clicked = true
		break
	}
	if !clicked {
		return t, false, ErrNoControl
	}

	deadline := time.Now().Add(navTimeout)
	for {
		select {
		case id := <-newTarget:
			popupCtx, popupCancel := chromedp.NewContext(t.ctx, chromedp.WithTargetID(id))
			return &Tab{ctx: popupCtx, cancel: popupCancel}, true, nil
		case <-ctx.Done():
			return t, false, ctx.Err()
		case <-time.After(250 * time.Millisecond):
			if cur := t.URL(); cur != "" && cur != startURL {
				return t, false, nil
			}
			if time.Now().After(deadline) {
				return t, false, ErrNoNavigation
			}
		}
	}
}

// runBounded runs actions on tabCtx, bounded by both the caller's
// context and timeout.
func runBounded(tabCtx, callCtx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	bounded, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(bounded, actions...) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		cancel()
		<-done
		return callCtx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
