// Package secrets persists a rotated credential into GitHub Actions
// repository secrets, sealed under the repository's published public
// key so the plaintext never leaves the process.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v61/github"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/oauth2"
)

// allowedAPIHosts are the only non-loopback hosts the store will talk to.
var allowedAPIHosts = []string{"github.com", "api.github.com"}

// Store writes sealed secret values to a single repository.
type Store struct {
	client *github.Client
	owner  string
	repo   string
}

// Option configures a Store.
type Option func(*Store) error

// WithBaseURL points the store at an alternate API origin. The
// effective origin still has to pass the endpoint guard in NewStore.
func WithBaseURL(base string) Option {
	return func(s *Store) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return err
		}
		s.client.BaseURL = u
		return nil
	}
}

// NewStore builds a store for "owner/repo" authenticated with token.
// Empty token or repository yields a nil store, which callers treat as
// "not configured".
func NewStore(ctx context.Context, token, repository string, opts ...Option) (*Store, error) {
	if token == "" || repository == "" {
		return nil, nil
	}

	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("repository must be owner/repo, got %q", repository)
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	))

	s := &Store{
		client: github.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// Every store goes through the endpoint guard, default origin
	// included, so a misconfigured base can never receive the sealed
	// credential.
	if err := validateEndpoint(s.client.BaseURL.String(), allowedAPIHosts); err != nil {
		return nil, err
	}
	return s, nil
}

// Enabled reports whether the store can accept writes.
func (s *Store) Enabled() bool { return s != nil }

// Put seals value under the repository's current public key and
// creates or updates the named secret.
func (s *Store) Put(ctx context.Context, name, value string) error {
	if !s.Enabled() {
		return fmt.Errorf("secret store not configured")
	}

	key, _, err := s.client.Actions.GetRepoPublicKey(ctx, s.owner, s.repo)
	if err != nil {
		return fmt.Errorf("fetch repo public key: %w", err)
	}

	sealed, err := seal(key.GetKey(), value)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}

	secret := &github.EncryptedSecret{
		Name:           name,
		KeyID:          key.GetKeyID(),
		EncryptedValue: sealed,
	}
	if _, err := s.client.Actions.CreateOrUpdateRepoSecret(ctx, s.owner, s.repo, secret); err != nil {
		return fmt.Errorf("update secret %s: %w", name, err)
	}
	return nil
}

// seal encrypts value for the base64-encoded curve25519 public key
// using an anonymous sealed box, returning base64 ciphertext.
func seal(publicKeyB64, value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}

	var pk [32]byte
	copy(pk[:], raw)

	sealed, err := box.SealAnonymous(nil, []byte(value), &pk, rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}
