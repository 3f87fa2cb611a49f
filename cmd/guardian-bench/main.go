package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/cache"
	"github.com/omar-gamzatov/content-guardian/internal/config"
	"github.com/omar-gamzatov/content-guardian/internal/intel"
	"github.com/omar-gamzatov/content-guardian/internal/moderation"
	"github.com/omar-gamzatov/content-guardian/internal/policy"
)

func main() {
	cfgPath := flag.String("config", "", "path to config yaml (required)")
	n := flag.Int("n", 2000, "number of iterations")
	text := flag.String("text", "I will find you and hurt you, you absolute idiot. Mail me at someone@example.com", "content to moderate")
	policyVersion := flag.String("policy-version", "", "policy version to apply (default from config)")
	flag.Parse()

	if *cfgPath == "" {
		log.Fatalf("config flag is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	reg, err := policy.LoadRegistry(cfg.Policies.Dir, cfg.Policies.Files, cfg.Policies.DefaultVersion)
	if err != nil {
		log.Fatalf("load policies: %v", err)
	}
	vcfg, err := cfg.Verdict.Build()
	if err != nil {
		log.Fatalf("verdict config: %v", err)
	}

	var engine intel.Engine = intel.NewNoop()
	if cfg.Intel.Enabled {
		engine = intel.NewRegexBundle(cfg.Intel)
	}

	// The classifier and cache are left out so the numbers cover the local
	// pipeline only: normalization, intel, rules and aggregation.
	svc, err := moderation.New(moderation.Options{
		Registry: reg,
		Verdict:  vcfg,
		Intel:    engine,
		Cache:    cache.Noop{},
	})
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	req := moderation.Request{
		TenantID:      "bench",
		PolicyVersion: *policyVersion,
		Content:       moderation.Content{Type: "text", Text: *text},
	}
	ctx := context.Background()

	// Warmup
	var last *moderation.Response
	for i := 0; i < 20; i++ {
		if last, err = svc.Moderate(ctx, req); err != nil {
			log.Fatalf("warmup moderate failed: %v", err)
		}
	}

	if *n <= 0 {
		*n = 1
	}

	durations := make([]time.Duration, 0, *n)
	for i := 0; i < *n; i++ {
		start := time.Now()
		if _, err := svc.Moderate(ctx, req); err != nil {
			log.Fatalf("moderate failed: %v", err)
		}
		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	avg := float64(total.Microseconds()) / 1000.0 / float64(len(durations))
	p50 := float64(durations[len(durations)/2].Microseconds()) / 1000.0
	p95 := float64(durations[int(float64(len(durations))*0.95)].Microseconds()) / 1000.0
	p99 := float64(durations[int(float64(len(durations))*0.99)].Microseconds()) / 1000.0

	fired := 0
	if last.Verdict.Explain != nil {
		fired = len(last.Verdict.Explain.RulesFired)
	}
	fmt.Printf("bench: n=%d avg_ms=%.3f p50_ms=%.3f p95_ms=%.3f p99_ms=%.3f policy=%s action=%s severity=%s rules_fired=%d\n",
		len(durations),
		avg,
		p50,
		p95,
		p99,
		reg.Default(),
		last.Verdict.Action,
		last.Verdict.Severity,
		fired,
	)
}
