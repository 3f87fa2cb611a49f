package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omar-gamzatov/content-guardian/internal/activation"
	"github.com/omar-gamzatov/content-guardian/internal/auth"
	"github.com/omar-gamzatov/content-guardian/internal/cache"
	"github.com/omar-gamzatov/content-guardian/internal/config"
	"github.com/omar-gamzatov/content-guardian/internal/intel"
	"github.com/omar-gamzatov/content-guardian/internal/moderation"
	"github.com/omar-gamzatov/content-guardian/internal/policy"
	"github.com/omar-gamzatov/content-guardian/internal/provider"
	"github.com/omar-gamzatov/content-guardian/internal/redact"
	"github.com/omar-gamzatov/content-guardian/internal/server"
	"github.com/omar-gamzatov/content-guardian/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	authz, err := auth.NewFromConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.ServiceName,
		Version:  version,
		Insecure: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	defer opts.Cache.Close()
	opts.Telemetry = tel

	emitter, err := activation.NewFromConfig(cfg.Activation, tel)
	if err != nil {
		return fmt.Errorf("activation: %w", err)
	}
	defer emitter.Close(context.Background())
	opts.Emitter = emitter

	svc, err := moderation.New(opts)
	if err != nil {
		return fmt.Errorf("moderation: %w", err)
	}

	redact.Logf("policies loaded: versions=%s default=%q; intel=%v model=%v cache=%s tenants=%d",
		strings.Join(opts.Registry.Versions(), ","), opts.Registry.Default(),
		cfg.Intel.Enabled, cfg.Model.Enabled, cfg.Cache.Type, len(cfg.Auth.Tenants))

	return server.New(cfg, svc, authz, tel).Start(ctx)
}

// buildOptions wires everything the moderation pipeline needs apart from
// telemetry and activation, which the caller owns.
func buildOptions(cfg *config.Config) (moderation.Options, error) {
	reg, err := policy.LoadRegistry(cfg.Policies.Dir, cfg.Policies.Files, cfg.Policies.DefaultVersion)
	if err != nil {
		return moderation.Options{}, fmt.Errorf("policies: %w", err)
	}
	vcfg, err := cfg.Verdict.Build()
	if err != nil {
		return moderation.Options{}, fmt.Errorf("verdict: %w", err)
	}

	var engine intel.Engine = intel.NewNoop()
	if cfg.Intel.Enabled {
		engine = intel.NewRegexBundle(cfg.Intel)
	}

	var classifier provider.Classifier
	if cfg.Model.Enabled {
		apiKey := ""
		if cfg.Model.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.Model.APIKeyEnv)
		}
		classifier = provider.NewHTTP(cfg.Model.BaseURL, apiKey, cfg.Model.Name, cfg.Model.Timeout, cfg.Model.MaxResponseBytes)
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return moderation.Options{}, fmt.Errorf("cache: %w", err)
	}

	return moderation.Options{
		Registry:        reg,
		Verdict:         vcfg,
		Intel:           engine,
		Classifier:      classifier,
		ModelRequired:   cfg.Model.Required,
		PIIRedact:       cfg.Model.PIIRedact,
		Cache:           c,
		CacheTTL:        cfg.Cache.TTL,
		ActivationLevel: cfg.Logging.ActivationLevel,
	}, nil
}
