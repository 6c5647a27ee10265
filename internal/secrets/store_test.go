package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

func TestSeal_RoundTrip(t *testing.T) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	sealed, err := seal(base64.StdEncoding.EncodeToString(pub[:]), "s3cret-cookie-value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("decode sealed: %v", err)
	}

	plain, ok := box.OpenAnonymous(nil, raw, pub, priv)
	if !ok {
		t.Fatal("OpenAnonymous failed")
	}
	if string(plain) != "s3cret-cookie-value" {
		t.Errorf("plaintext = %q", plain)
	}
}

func TestSeal_InvalidKey(t *testing.T) {
	if _, err := seal("not-base64!!!", "v"); err == nil {
		t.Error("seal should reject malformed base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := seal(short, "v"); err == nil {
		t.Error("seal should reject keys that are not 32 bytes")
	}
}

func TestNewStore_Unconfigured(t *testing.T) {
	s, err := NewStore(context.Background(), "", "owner/repo")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Enabled() {
		t.Error("store without token should be disabled")
	}

	s, err = NewStore(context.Background(), "tok", "")
	if err != nil || s.Enabled() {
		t.Errorf("store without repository should be disabled, got %v, %v", s, err)
	}
}

func TestNewStore_BadRepository(t *testing.T) {
	if _, err := NewStore(context.Background(), "tok", "no-slash"); err == nil {
		t.Error("NewStore should reject repository without owner")
	}
	if _, err := NewStore(context.Background(), "tok", "/repo"); err == nil {
		t.Error("NewStore should reject empty owner")
	}
}

func TestStore_Put(t *testing.T) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var putBody struct {
		EncryptedValue string `json:"encrypted_value"`
		KeyID          string `json:"key_id"`
	}
	var putPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/infra/actions/secrets/public-key":
			json.NewEncoder(w).Encode(map[string]string{
				"key":    base64.StdEncoding.EncodeToString(pub[:]),
				"key_id": "key-7",
			})
		case r.Method == http.MethodPut:
			putPath = r.URL.Path
			if err := json.NewDecoder(r.Body).Decode(&putBody); err != nil {
				t.Errorf("decode put body: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewStore(context.Background(), "tok", "octo/infra", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.Put(context.Background(), "GH_SESSION", "rotated-value"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if putPath != "/repos/octo/infra/actions/secrets/GH_SESSION" {
		t.Errorf("put path = %q", putPath)
	}
	if putBody.KeyID != "key-7" {
		t.Errorf("key_id = %q", putBody.KeyID)
	}

	raw, err := base64.StdEncoding.DecodeString(putBody.EncryptedValue)
	if err != nil {
		t.Fatalf("decode encrypted_value: %v", err)
	}
	plain, ok := box.OpenAnonymous(nil, raw, pub, priv)
	if !ok {
		t.Fatal("stored value does not open under the repo key")
	}
	if string(plain) != "rotated-value" {
		t.Errorf("plaintext = %q", plain)
	}
}

func TestValidateEndpoint(t *testing.T) {
	cases := []struct {
		raw    string
		wantOK bool
	}{
		{"https://api.github.com/", true},
		{"https://github.com/api/v3/", true},
		{"http://127.0.0.1:9000/", true},
		{"http://localhost:9000/", true},
		{"https://evil.example.com/", false},
		{"http://api.github.com/", false},
		{"", false},
		{"file:///etc/passwd", false},
	}
	for _, tc := range cases {
		err := validateEndpoint(tc.raw, allowedAPIHosts)
		if (err == nil) != tc.wantOK {
			t.Errorf("validateEndpoint(%q) = %v, want ok=%v", tc.raw, err, tc.wantOK)
		}
	}
}

func TestNewStore_GuardsEffectiveEndpoint(t *testing.T) {
	// The default origin passes the guard.
	s, err := NewStore(context.Background(), "tok", "octo/infra")
	if err != nil {
		t.Fatalf("NewStore with default origin: %v", err)
	}
	if !s.Enabled() {
		t.Fatal("configured store should be enabled")
	}

	if _, err := NewStore(context.Background(), "tok", "octo/infra",
		WithBaseURL("https://evil.example.com")); err == nil {
		t.Error("NewStore should reject a non-allowlisted base")
	}
	if _, err := NewStore(context.Background(), "tok", "octo/infra",
		WithBaseURL("http://github.com")); err == nil {
		t.Error("NewStore should reject plain http for non-loopback hosts")
	}
}
