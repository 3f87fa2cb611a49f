package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{
			name: "missing server addr",
			mut:  func(c *Config) { c.Server.Addr = "" },
			want: "server.addr",
		},
		{
			name: "tenant without id",
			mut:  func(c *Config) { c.Auth.Tenants = []TenantConfig{{APIKeys: []string{"k"}}} },
			want: "auth.tenants[0].id",
		},
		{
			name: "tenant without keys",
			mut:  func(c *Config) { c.Auth.Tenants = []TenantConfig{{ID: "acme"}} },
			want: "no api_keys",
		},
		{
			name: "api key shared by tenants",
			mut: func(c *Config) {
				c.Auth.Tenants = []TenantConfig{
					{ID: "acme", APIKeys: []string{"k1"}},
					{ID: "globex", APIKeys: []string{"k1"}},
				}
			},
			want: "already assigned",
		},
		{
			name: "unknown activation level",
			mut:  func(c *Config) { c.Logging.ActivationLevel = "verbose" },
			want: "activation_level",
		},
		{
			name: "inverted thresholds",
			mut:  func(c *Config) { c.Verdict.MediumThreshold, c.Verdict.HighThreshold = 0.9, 0.4 },
			want: "thresholds",
		},
		{
			name: "category soft above block",
			mut: func(c *Config) {
				c.Verdict.CategoryThresholds = map[string]CategoryThresholdConfig{"toxicity": {Block: 0.6, Soft: 0.9}}
			},
			want: "category_thresholds[toxicity]",
		},
		{
			name: "negative webhook retries",
			mut: func(c *Config) {
				n := -1
				c.Activation.Sinks = []ActivationSinkConfig{{Type: "webhook", URL: "http://hooks.local/x", MaxRetries: &n}}
			},
			want: "max_retries",
		},
		{
			name: "unknown severity action",
			mut:  func(c *Config) { c.Verdict.SeverityActions = map[string]string{"high": "nuke"} },
			want: "severity_actions.high",
		},
		{
			name: "unknown rule action",
			mut:  func(c *Config) { c.Verdict.RuleActions = map[string]string{"threat": "ban"} },
			want: "rule_actions.threat",
		},
		{
			name: "unknown precedence stage",
			mut:  func(c *Config) { c.Verdict.Precedence = []string{"rule", "mood"} },
			want: "precedence",
		},
		{
			name: "escalate above one",
			mut:  func(c *Config) { c.Verdict.EscalateAbove = 1.5 },
			want: "escalate_above",
		},
		{
			name: "model enabled without url",
			mut:  func(c *Config) { c.Model.Enabled = true },
			want: "model.base_url",
		},
		{
			name: "model url bad scheme",
			mut:  func(c *Config) { c.Model.Enabled, c.Model.BaseURL = true, "ftp://models.local" },
			want: "http or https",
		},
		{
			name: "model required but disabled",
			mut:  func(c *Config) { c.Model.Required = true },
			want: "model.required",
		},
		{
			name: "redis without addr",
			mut:  func(c *Config) { c.Cache.Type = "redis" },
			want: "cache.addr",
		},
		{
			name: "unknown cache type",
			mut:  func(c *Config) { c.Cache.Type = "memcached" },
			want: "cache.type",
		},
		{
			name: "kafka sink without topic",
			mut: func(c *Config) {
				c.Activation.Sinks = []ActivationSinkConfig{{Type: "kafka", Brokers: []string{"localhost:9092"}}}
			},
			want: "topic",
		},
		{
			name: "webhook sink bad url",
			mut: func(c *Config) {
				c.Activation.Sinks = []ActivationSinkConfig{{Type: "webhook", URL: "not a url"}}
			},
			want: "webhook",
		},
		{
			name: "unknown sink",
			mut: func(c *Config) {
				c.Activation.Sinks = []ActivationSinkConfig{{Type: "carrier_pigeon"}}
			},
			want: "unknown type",
		},
		{
			name: "telemetry without endpoint",
			mut:  func(c *Config) { c.Telemetry.Enabled = true },
			want: "endpoint",
		},
		{
			name: "telemetry bad protocol",
			mut:  func(c *Config) { c.Telemetry.Enabled, c.Telemetry.Protocol = true, "udp" },
			want: "telemetry.protocol",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			} else if !contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err.Error(), tc.want)
			}
		})
	}
}

func TestValidateOK(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}

	cfg := Default()
	cfg.Model = ModelConfig{Enabled: true, BaseURL: "http://127.0.0.1:9000", Required: true}
	cfg.Cache = CacheConfig{Type: "redis", Addr: "localhost:6379"}
	cfg.Telemetry = TelemetryConfig{Enabled: true, Protocol: "prometheus"}
	cfg.Activation.Sinks = []ActivationSinkConfig{
		{Type: "file_jsonl", Path: "/tmp/guardian.jsonl"},
		{Type: "kafka", Brokers: []string{"localhost:9092"}, Topic: "verdicts"},
		{Type: "log"},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Verdict.MediumThreshold != 0.5 || cfg.Verdict.HighThreshold != 0.85 {
		t.Fatalf("thresholds = %v/%v", cfg.Verdict.MediumThreshold, cfg.Verdict.HighThreshold)
	}
	if !cfg.Intel.Enabled || len(cfg.Intel.Keywords) == 0 {
		t.Fatalf("expected intel keywords by default")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardian.yaml")
	data := `
server:
  addr: ":9090"
verdict:
  escalate_above: 0.7
  rule_actions:
    threat: block
  category_thresholds:
    toxicity: {block: 0.92, soft: 0.75}
    profanity: {block: 0.95}
model:
  enabled: true
  base_url: http://classifier:8000
  timeout: 750ms
cache:
  type: memory
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Model.Timeout != 750*time.Millisecond {
		t.Fatalf("model timeout = %v", cfg.Model.Timeout)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Fatalf("cache ttl = %v", cfg.Cache.TTL)
	}

	vc, err := cfg.Verdict.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if vc.EscalateAbove != 0.7 {
		t.Fatalf("escalate_above = %v", vc.EscalateAbove)
	}
	if vc.RuleActions["threat"] != verdict.ActionBlock {
		t.Fatalf("rule_actions = %v", vc.RuleActions)
	}
	if got := vc.SeverityActions[verdict.SeverityHigh]; got != verdict.ActionBlock {
		t.Fatalf("severity_actions[high] = %q", got)
	}
	if got := vc.CategoryThresholds["toxicity"]; got != (verdict.CategoryThresholds{Block: 0.92, Soft: 0.75}) {
		t.Fatalf("category_thresholds[toxicity] = %+v", got)
	}
	if got := vc.CategoryThresholds["profanity"]; got.Block != 0.95 || got.Soft != 0 {
		t.Fatalf("category_thresholds[profanity] = %+v", got)
	}
	if len(vc.Precedence) != 2 || vc.Precedence[0] != verdict.StageRule {
		t.Fatalf("precedence = %v", vc.Precedence)
	}
}

func contains(s, sub string) bool {
	return s != "" && sub != "" && strings.Contains(s, sub)
}
