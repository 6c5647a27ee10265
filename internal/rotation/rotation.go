// Package rotation reads the provider session credential out of the
// browser's cookie jar after a confirmed login and rotates it into the
// secret store, falling back to a one-time disclosure over the
// verification channel when the store cannot take it.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SessionCookieName is the provider's long-lived session cookie.
const SessionCookieName = "user_session"

// ProviderDomain scopes the cookie lookup to the identity provider.
const ProviderDomain = "github.com"

// DefaultSecretName is the secret the rotated value is stored under.
const DefaultSecretName = "GH_SESSION"

// ErrRotationFailed marks a rotation that degraded to disclosure.
// Callers report it but never fail the run over it.
var ErrRotationFailed = errors.New("credential rotation failed")

// Cookie is the slice of the browser cookie jar rotation needs.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// ExtractCredential scans the jar for the provider session cookie and
// returns its value, or "" when no cookie matches.
func ExtractCredential(cookies []Cookie) string {
	for _, c := range cookies {
		if c.Name == SessionCookieName && strings.Contains(c.Domain, ProviderDomain) {
			return c.Value
		}
	}
	return ""
}

// SecretStore persists the rotated value.
type SecretStore interface {
	Enabled() bool
	Put(ctx context.Context, name, value string) error
}

// Notifier pushes operator-facing text.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Rotator performs the single post-authentication rotation.
type Rotator struct {
	Store      SecretStore
	Channel    Notifier
	SecretName string

	// Logf receives progress lines. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// Rotate persists value to the secret store, or on failure discloses
// it once through the channel as a spoiler. Invoked exactly once per
// run, only after the orchestrator reached its authenticated state.
// The returned ErrRotationFailed is informational: the run's verdict
// does not change.
func (r *Rotator) Rotate(ctx context.Context, value string) error {
	if value == "" {
		return fmt.Errorf("%w: empty credential", ErrRotationFailed)
	}

	name := r.SecretName
	if name == "" {
		name = DefaultSecretName
	}
	logf := r.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	logf("rotating credential %s", Truncate(value))

	if r.Store != nil && r.Store.Enabled() {
		if err := r.Store.Put(ctx, name, value); err == nil {
			logf("secret %s updated", name)
			if r.Channel != nil {
				r.Channel.Notify(ctx, fmt.Sprintf("🔑 <b>Credential rotated</b>\n\n%s has been updated", name))
			}
			return nil
		} else {
			logf("secret store update failed: %v", err)
		}
	}

	// Degraded path: hand the raw value to the operator once.
	if r.Channel != nil {
		r.Channel.Notify(ctx, fmt.Sprintf(
			"🔑 <b>New credential</b>\n\nPlease update secret <b>%s</b> manually:\n<tg-spoiler>%s</tg-spoiler>",
			name, value,
		))
		logf("credential disclosed via channel")
	}
	return ErrRotationFailed
}

// Truncate renders a credential safe for logs: first 15 and last 8
// characters with the middle elided.
func Truncate(value string) string {
	if len(value) <= 23 {
		return "***"
	}
	return value[:15] + "..." + value[len(value)-8:]
}
