package auth

import (
	"testing"

	"github.com/omar-gamzatov/content-guardian/internal/config"
)

func TestLookup(t *testing.T) {
	t.Setenv("GUARDIAN_TEST_KEY", "env-key")

	a, err := NewFromConfig(config.AuthConfig{Tenants: []config.TenantConfig{
		{ID: "acme", APIKeys: []string{"k1", ""}, APIKeyEnvs: []string{"GUARDIAN_TEST_KEY", "GUARDIAN_UNSET_KEY"}},
		{ID: "globex", APIKeys: []string{"k2"}},
	}})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if !a.Enabled() {
		t.Fatalf("expected auth enabled")
	}

	cases := map[string]string{"k1": "acme", "env-key": "acme", "k2": "globex"}
	for key, want := range cases {
		got, ok := a.Lookup(key)
		if !ok || got.ID != want {
			t.Fatalf("Lookup(%q) = %v, %v; want %s", key, got, ok, want)
		}
	}
	if _, ok := a.Lookup("k3"); ok {
		t.Fatalf("unknown key must not resolve")
	}
	if _, ok := a.Lookup(""); ok {
		t.Fatalf("empty key must not resolve")
	}
}

func TestNewFromConfigErrors(t *testing.T) {
	if _, err := NewFromConfig(config.AuthConfig{Tenants: []config.TenantConfig{{APIKeys: []string{"k"}}}}); err == nil {
		t.Fatalf("expected error for empty tenant id")
	}
	_, err := NewFromConfig(config.AuthConfig{Tenants: []config.TenantConfig{
		{ID: "a", APIKeys: []string{"same"}},
		{ID: "b", APIKeys: []string{"same"}},
	}})
	if err == nil {
		t.Fatalf("expected error for shared key")
	}
}

func TestDisabledAuth(t *testing.T) {
	a, err := NewFromConfig(config.AuthConfig{})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if a.Enabled() {
		t.Fatalf("no tenants means auth disabled")
	}
	var nilAuth *Auth
	if nilAuth.Enabled() {
		t.Fatalf("nil auth must be disabled")
	}
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		in    string
		token string
		ok    bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := ParseBearer(tc.in)
		if token != tc.token || ok != tc.ok {
			t.Fatalf("ParseBearer(%q) = %q, %v", tc.in, token, ok)
		}
	}
}
