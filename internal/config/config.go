package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds content-guardian configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Policies   PoliciesConfig   `yaml:"policies"`
	Verdict    VerdictConfig    `yaml:"verdict"`
	Model      ModelConfig      `yaml:"model"`
	Intel      IntelConfig      `yaml:"intel"`
	Cache      CacheConfig      `yaml:"cache"`
	Activation ActivationConfig `yaml:"activation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`           // HTTP listen address, e.g. ":8080"
	MaxBodyBytes    int64         `yaml:"max_body_bytes"` // request body cap, 413 above it
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Console         bool          `yaml:"console"` // serve the moderation console at /console
}

// AuthConfig binds API keys to tenants. With no tenants configured the
// HTTP API is open and tenant_id is taken from the request body.
type AuthConfig struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

type TenantConfig struct {
	ID         string   `yaml:"id"`
	APIKeys    []string `yaml:"api_keys"`
	APIKeyEnvs []string `yaml:"api_key_envs"` // keys read from the environment at startup
}

type LoggingConfig struct {
	ActivationLevel string `yaml:"activation_level"` // metadata | redacted | full
}

type PoliciesConfig struct {
	Dir            string   `yaml:"dir"`
	Files          []string `yaml:"files"`
	DefaultVersion string   `yaml:"default_version"`
}

// VerdictConfig mirrors verdict.Config in YAML form.
type VerdictConfig struct {
	MediumThreshold float64           `yaml:"medium_threshold"`
	HighThreshold   float64           `yaml:"high_threshold"`
	SeverityActions map[string]string `yaml:"severity_actions"`
	RuleActions     map[string]string `yaml:"rule_actions"`
	ActionSeverity  map[string]string `yaml:"action_severity"`
	Precedence      []string          `yaml:"precedence"`
	EscalateAbove   float64           `yaml:"escalate_above"` // 0 disables escalation
	ClampScores     bool              `yaml:"clamp_scores"`
	DefaultAction   string            `yaml:"default_action"`

	// CategoryThresholds map a category to its own block/soft cutoffs.
	CategoryThresholds map[string]CategoryThresholdConfig `yaml:"category_thresholds"`
}

type CategoryThresholdConfig struct {
	Block float64 `yaml:"block"`
	Soft  float64 `yaml:"soft"` // 0 disables the soft_block band
}

type ModelConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Name             string        `yaml:"name"`     // reported in explain.model when the classifier omits it
	BaseURL          string        `yaml:"base_url"` // classifier base, POST {base_url}/classify
	APIKeyEnv        string        `yaml:"api_key_env"`
	Timeout          time.Duration `yaml:"timeout"`
	Required         bool          `yaml:"required"` // classifier failure fails the request (502)
	PIIRedact        bool          `yaml:"pii_redact"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

type IntelConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Keywords map[string][]string `yaml:"keywords"` // category -> keywords, emitted as kw_<category>
}

type CacheConfig struct {
	Type        string        `yaml:"type"` // none | memory | redis
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	TTL         time.Duration `yaml:"ttl"`
	MaxEntries  int           `yaml:"max_entries"` // memory cache only
}

type ActivationConfig struct {
	QueueSize       int                    `yaml:"queue_size"`
	Workers         int                    `yaml:"workers"`
	ShutdownTimeout time.Duration          `yaml:"shutdown_timeout"`
	Sinks           []ActivationSinkConfig `yaml:"sinks"`
}

type ActivationSinkConfig struct {
	Type string `yaml:"type"` // file_jsonl | webhook | kafka | log

	Path string `yaml:"path"` // file_jsonl

	URL        string            `yaml:"url"` // webhook
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout"`
	MaxRetries *int              `yaml:"max_retries"` // unset means 2, 0 disables retries
	Backoff    time.Duration     `yaml:"backoff"`
	SecretEnv  string            `yaml:"secret_env"` // HMAC signing secret for X-Guardian-Signature

	Brokers []string `yaml:"brokers"` // kafka
	Topic   string   `yaml:"topic"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Protocol    string `yaml:"protocol"` // grpc | http | prometheus
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Intel: IntelConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.ActivationLevel == "" {
		cfg.Logging.ActivationLevel = "metadata"
	}

	v := &cfg.Verdict
	if v.MediumThreshold == 0 && v.HighThreshold == 0 {
		v.MediumThreshold = 0.5
		v.HighThreshold = 0.85
	}
	if v.SeverityActions == nil {
		v.SeverityActions = map[string]string{
			"low":    "allow",
			"medium": "soft_block",
			"high":   "block",
		}
	}
	if v.ActionSeverity == nil {
		v.ActionSeverity = map[string]string{
			"soft_block": "medium",
			"block":      "high",
			"escalate":   "high",
		}
	}
	if len(v.Precedence) == 0 {
		v.Precedence = []string{"rule", "score"}
	}
	if v.DefaultAction == "" {
		v.DefaultAction = "allow"
	}

	if cfg.Model.Timeout <= 0 {
		cfg.Model.Timeout = 2 * time.Second
	}
	if cfg.Model.MaxResponseBytes <= 0 {
		cfg.Model.MaxResponseBytes = 1 << 20
	}

	if cfg.Intel.Enabled && cfg.Intel.Keywords == nil {
		cfg.Intel.Keywords = defaultKeywords()
	}

	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "none"
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 10000
	}

	if cfg.Activation.QueueSize <= 0 {
		cfg.Activation.QueueSize = 1000
	}
	if cfg.Activation.Workers <= 0 {
		cfg.Activation.Workers = 1
	}
	if cfg.Activation.ShutdownTimeout <= 0 {
		cfg.Activation.ShutdownTimeout = 2 * time.Second
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "content-guardian"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}

func defaultKeywords() map[string][]string {
	return map[string][]string{
		"threat":    {"kill you", "hurt you", "i will find you"},
		"insult":    {"idiot", "stupid", "moron"},
		"hate":      {"hate you"},
		"self_harm": {"kill myself", "end my life"},
	}
}
