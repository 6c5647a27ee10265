package region

import "testing"

func TestParse_TenantSubdomain(t *testing.T) {
	tenant, ok := Parse("https://ap-southeast-1.run.claw.cloud/signin")
	if !ok {
		t.Fatal("Parse should match a tenant subdomain")
	}
	if tenant != "ap-southeast-1" {
		t.Errorf("tenant = %q, want %q", tenant, "ap-southeast-1")
	}
}

func TestParse_NonMatching(t *testing.T) {
	cases := []string{
		"https://run.claw.cloud",                // bare apex
		"https://run.claw.cloud/signin",         // apex with path
		"https://console.run.claw.cloud",        // vanity subdomain, not a tenant
		"https://github.com/login",              // different domain
		"https://us-east-1.run.claw.cloud.evil.com", // suffix spoof
		"https://evil-run.claw.cloud",           // missing label dot
		"",                                      // empty
		"://bad",                                // unparseable
	}

	for _, raw := range cases {
		if tenant, ok := Parse(raw); ok {
			t.Errorf("Parse(%q) = %q, want no match", raw, tenant)
		}
	}
}

func TestParse_RebuildRoundTrip(t *testing.T) {
	urls := []string{
		"https://us-east-1.run.claw.cloud",
		"https://ap-northeast-1.run.claw.cloud/apps?tab=all",
		"https://eu-central-2.run.claw.cloud/signin",
	}

	for _, raw := range urls {
		tenant, ok := Parse(raw)
		if !ok {
			t.Fatalf("Parse(%q) should match", raw)
		}
		rebuilt := BaseURL(tenant)
		if got, ok := Parse(rebuilt); !ok || got != tenant {
			t.Errorf("Parse(BaseURL(%q)) = %q, %v; want %q, true", tenant, got, ok, tenant)
		}
	}
}

func TestIsTenantURL(t *testing.T) {
	if !IsTenantURL("https://us-east-1.run.claw.cloud/") {
		t.Error("IsTenantURL should accept a tenant origin")
	}
	if IsTenantURL("https://console.run.claw.cloud/") {
		t.Error("IsTenantURL should reject the apex entry")
	}
}

func TestResolver_Priorities(t *testing.T) {
	t.Run("default entry", func(t *testing.T) {
		r := NewResolver("")
		if got := r.EffectiveBase(); got != DefaultEntry {
			t.Errorf("EffectiveBase() = %q, want %q", got, DefaultEntry)
		}
		if r.Resolved() {
			t.Error("Resolved() should be false with no binding")
		}
	})

	t.Run("detected beats default", func(t *testing.T) {
		r := NewResolver("")
		if _, ok := r.Observe("https://ap-southeast-1.run.claw.cloud/apps"); !ok {
			t.Fatal("Observe should detect tenant")
		}
		if got := r.EffectiveBase(); got != "https://ap-southeast-1.run.claw.cloud" {
			t.Errorf("EffectiveBase() = %q", got)
		}
		if !r.Resolved() {
			t.Error("Resolved() should be true after detection")
		}
	})

	t.Run("forced beats detected", func(t *testing.T) {
		r := NewResolver("us-east-1")
		r.Observe("https://ap-southeast-1.run.claw.cloud/")
		if got := r.EffectiveBase(); got != "https://us-east-1.run.claw.cloud" {
			t.Errorf("EffectiveBase() = %q", got)
		}
		if got := r.Tenant(); got != "us-east-1" {
			t.Errorf("Tenant() = %q, want forced tenant", got)
		}
	})
}

func TestResolver_SignInURL(t *testing.T) {
	r := NewResolver("")
	if got := r.SignInURL(); got != DefaultEntry+"/signin" {
		t.Errorf("SignInURL() = %q", got)
	}

	forced := NewResolver("ap-northeast-1")
	if got := forced.SignInURL(); got != "https://ap-northeast-1.run.claw.cloud/signin" {
		t.Errorf("SignInURL() = %q", got)
	}
}

func TestResolver_ObserveIgnoresNonTenant(t *testing.T) {
	r := NewResolver("")
	r.Observe("https://github.com/login")
	r.Observe("https://console.run.claw.cloud/")
	if r.Detected() != "" {
		t.Errorf("Detected() = %q, want empty", r.Detected())
	}
}
