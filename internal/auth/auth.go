package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"github.com/omar-gamzatov/content-guardian/internal/config"
)

// Tenant is the caller identity bound to an API key.
type Tenant struct {
	ID string
}

// Auth holds mappings from API keys to tenants.
type Auth struct {
	keys []keyEntry
}

type keyEntry struct {
	key    []byte
	tenant Tenant
}

// NewFromConfig builds an Auth instance from the auth section. Keys listed
// in api_key_envs are read from the environment; unset variables are skipped.
func NewFromConfig(cfg config.AuthConfig) (*Auth, error) {
	seen := make(map[string]string)
	a := &Auth{}

	for _, t := range cfg.Tenants {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("tenant with empty id in config")
		}
		keys := append([]string(nil), t.APIKeys...)
		for _, env := range t.APIKeyEnvs {
			if v := strings.TrimSpace(os.Getenv(env)); v != "" {
				keys = append(keys, v)
			}
		}
		for _, key := range keys {
			if key == "" {
				continue
			}
			if owner, exists := seen[key]; exists && owner != id {
				return nil, fmt.Errorf("api key is assigned to tenants %q and %q", owner, id)
			}
			seen[key] = id
			a.keys = append(a.keys, keyEntry{key: []byte(key), tenant: Tenant{ID: id}})
		}
	}
	return a, nil
}

// Enabled reports whether any API key is configured.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.keys) > 0
}

// Lookup returns the tenant for a given API key, if any. Every configured
// key is compared in constant time.
func (a *Auth) Lookup(apiKey string) (Tenant, bool) {
	if a == nil || apiKey == "" {
		return Tenant{}, false
	}
	var (
		found Tenant
		ok    bool
	)
	candidate := []byte(apiKey)
	for _, e := range a.keys {
		if subtle.ConstantTimeCompare(e.key, candidate) == 1 {
			found, ok = e.tenant, true
		}
	}
	return found, ok
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(h string) (string, bool) {
	h = strings.TrimSpace(h)
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
