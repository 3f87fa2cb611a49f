package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes must not be negative")
	}

	if err := validateAuthConfig(cfg.Auth); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.ActivationLevel)) {
	case "", "metadata", "redacted", "full":
	default:
		return fmt.Errorf("logging.activation_level must be metadata, redacted or full, got %q", cfg.Logging.ActivationLevel)
	}

	if _, err := cfg.Verdict.Build(); err != nil {
		return err
	}

	if err := validateModelConfig(cfg.Model); err != nil {
		return err
	}

	if err := validateCacheConfig(cfg.Cache); err != nil {
		return err
	}

	if err := validateActivationConfig(cfg.Activation); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

// Build converts the YAML verdict section into a validated verdict.Config.
func (v VerdictConfig) Build() (verdict.Config, error) {
	out := verdict.Config{
		Thresholds:      verdict.Thresholds{Medium: v.MediumThreshold, High: v.HighThreshold},
		SeverityActions: make(map[verdict.Severity]verdict.Action, len(v.SeverityActions)),
		RuleActions:     make(map[string]verdict.Action, len(v.RuleActions)),
		ActionSeverity:  make(map[verdict.Action]verdict.Severity, len(v.ActionSeverity)),
		EscalateAbove:   v.EscalateAbove,
		ClampScores:     v.ClampScores,
	}

	for sev, act := range v.SeverityActions {
		s, err := verdict.ParseSeverity(sev)
		if err != nil {
			return verdict.Config{}, fmt.Errorf("verdict.severity_actions: %w", err)
		}
		a, err := verdict.ParseAction(act)
		if err != nil {
			return verdict.Config{}, fmt.Errorf("verdict.severity_actions.%s: %w", sev, err)
		}
		out.SeverityActions[s] = a
	}
	if len(v.CategoryThresholds) > 0 {
		out.CategoryThresholds = make(map[string]verdict.CategoryThresholds, len(v.CategoryThresholds))
		for name, ct := range v.CategoryThresholds {
			out.CategoryThresholds[strings.TrimSpace(name)] = verdict.CategoryThresholds{Block: ct.Block, Soft: ct.Soft}
		}
	}
	for id, act := range v.RuleActions {
		a, err := verdict.ParseAction(act)
		if err != nil {
			return verdict.Config{}, fmt.Errorf("verdict.rule_actions.%s: %w", id, err)
		}
		out.RuleActions[id] = a
	}
	for act, sev := range v.ActionSeverity {
		a, err := verdict.ParseAction(act)
		if err != nil {
			return verdict.Config{}, fmt.Errorf("verdict.action_severity: %w", err)
		}
		s, err := verdict.ParseSeverity(sev)
		if err != nil {
			return verdict.Config{}, fmt.Errorf("verdict.action_severity.%s: %w", act, err)
		}
		out.ActionSeverity[a] = s
	}
	for _, st := range v.Precedence {
		out.Precedence = append(out.Precedence, verdict.Stage(strings.ToLower(strings.TrimSpace(st))))
	}
	if strings.TrimSpace(v.DefaultAction) != "" {
		a, err := verdict.ParseAction(v.DefaultAction)
		if err != nil {
			return verdict.Config{}, fmt.Errorf("verdict.default_action: %w", err)
		}
		out.DefaultAction = a
	}

	if err := out.Validate(); err != nil {
		return verdict.Config{}, fmt.Errorf("verdict: %w", err)
	}
	return out, nil
}

func validateAuthConfig(a AuthConfig) error {
	seenTenants := make(map[string]struct{}, len(a.Tenants))
	seenKeys := make(map[string]string)
	for i, t := range a.Tenants {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("auth.tenants[%d].id must be set", i)
		}
		if _, dup := seenTenants[id]; dup {
			return fmt.Errorf("auth.tenants[%d]: duplicate tenant id %q", i, id)
		}
		seenTenants[id] = struct{}{}
		if len(t.APIKeys) == 0 && len(t.APIKeyEnvs) == 0 {
			return fmt.Errorf("auth.tenants[%d] (%s) has no api_keys or api_key_envs", i, id)
		}
		for _, k := range t.APIKeys {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("auth.tenants[%d] (%s) has an empty api key", i, id)
			}
			if owner, dup := seenKeys[k]; dup {
				return fmt.Errorf("auth.tenants[%d] (%s): api key already assigned to tenant %q", i, id, owner)
			}
			seenKeys[k] = id
		}
	}
	return nil
}

func validateModelConfig(m ModelConfig) error {
	if !m.Enabled {
		if m.Required {
			return errors.New("model.required needs model.enabled")
		}
		return nil
	}
	if strings.TrimSpace(m.BaseURL) == "" {
		return errors.New("model enabled but model.base_url is empty")
	}
	u, err := url.Parse(m.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("model.base_url is invalid")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("model.base_url must be http or https")
	}
	if m.Timeout < 0 {
		return errors.New("model.timeout must not be negative")
	}
	return nil
}

func validateCacheConfig(c CacheConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "", "none", "memory":
		return nil
	case "redis":
		if strings.TrimSpace(c.Addr) == "" {
			return errors.New("cache.type redis requires cache.addr")
		}
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			return fmt.Errorf("cache.addr must be host:port: %w", err)
		}
		if c.DB < 0 {
			return errors.New("cache.db must not be negative")
		}
		return nil
	default:
		return fmt.Errorf("cache.type must be none, memory or redis, got %q", c.Type)
	}
}

func validateActivationConfig(a ActivationConfig) error {
	if len(a.Sinks) == 0 {
		return nil
	}
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("activation sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("activation sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("activation sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("activation sink %d (webhook) url must be http or https", i)
			}
			if s.MaxRetries != nil && *s.MaxRetries < 0 {
				return fmt.Errorf("activation sink %d (webhook) max_retries must be >= 0", i)
			}
		case "kafka":
			if len(s.Brokers) == 0 {
				return fmt.Errorf("activation sink %d (kafka) missing brokers", i)
			}
			if strings.TrimSpace(s.Topic) == "" {
				return fmt.Errorf("activation sink %d (kafka) missing topic", i)
			}
		case "log":
		default:
			return fmt.Errorf("activation sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	protocol := strings.ToLower(strings.TrimSpace(t.Protocol))
	switch protocol {
	case "", "grpc", "http":
		if strings.TrimSpace(t.Endpoint) == "" {
			return errors.New("telemetry enabled but endpoint is empty")
		}
	case "prometheus":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc, http or prometheus, got %q", t.Protocol)
	}
	return nil
}
