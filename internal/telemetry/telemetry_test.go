package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

func TestSafeAttributesFiltersContent(t *testing.T) {
	kvs := map[string]any{
		"guardian.text":      "you are an idiot",
		"content_type":       "text",
		"preview":            "drop",
		"api_key":            "sk-123",
		"token":              "abc",
		"authorization":      "secret",
		"guardian.tenant_id": "tenant-a",
		"guardian.lang":      "en",
		"long_string":        strings.Repeat("x", 600),
		"guardian.cached":    true,
		"guardian.rules":     []string{"r1", "r2"},
		"unsupported":        struct{}{},
	}

	attrs := SafeAttributes(kvs)
	var keys []string
	for _, a := range attrs {
		keys = append(keys, string(a.Key))
	}
	got := strings.Join(keys, ",")
	want := "guardian.cached,guardian.lang,guardian.rules,guardian.tenant_id"
	if got != want {
		t.Fatalf("attributes = %s, want %s", got, want)
	}
}

func TestSafeAttributesEmpty(t *testing.T) {
	if attrs := SafeAttributes(nil); attrs != nil {
		t.Fatalf("expected nil, got %v", attrs)
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled || p.MetricsHandler() != nil {
		t.Fatalf("expected disabled provider")
	}
	ctx := context.Background()
	p.RecordVerdict(ctx, "moderations", "v1", verdict.Verdict{Action: verdict.ActionAllow}, false, 1)
	p.RecordCache(ctx, "miss")
	p.RecordModel(ctx, 2, true)
	p.RecordEvaluation(ctx, "ok")
	p.RecordActivationDrop(ctx, "queue_full")
	p.Shutdown(ctx)
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	ctx := context.Background()
	if p.Tracer() == nil || p.Meter() == nil {
		t.Fatalf("nil provider must hand out noop tracer and meter")
	}
	p.RecordVerdict(ctx, "verdicts", "", verdict.Verdict{}, false, 0)
	p.RecordActivationDrop(ctx, "queue_full")
	p.Shutdown(ctx)
}

func TestUnsupportedProtocol(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{Enabled: true, Protocol: "zipkin"}); err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
}

func TestPrometheusProviderServesMetrics(t *testing.T) {
	ctx := context.Background()
	p, err := NewProvider(ctx, Config{Enabled: true, Protocol: ProtocolPrometheus, Version: "test"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Shutdown(ctx)

	// a second provider must not collide with the first one's registry
	other, err := NewProvider(ctx, Config{Enabled: true, Protocol: ProtocolPrometheus})
	if err != nil {
		t.Fatalf("second provider: %v", err)
	}
	defer other.Shutdown(ctx)

	v := verdict.Verdict{
		Action:   verdict.ActionBlock,
		Severity: verdict.SeverityHigh,
		Explain:  &verdict.Explain{RulesFired: []string{"threat-keywords"}},
	}
	p.RecordVerdict(ctx, "moderations", "v1", v, false, 12.5)
	p.RecordCache(ctx, "hit")

	h := p.MetricsHandler()
	if h == nil {
		t.Fatalf("expected metrics handler")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{"guardian_verdicts", "guardian_request_duration_ms", "guardian_rules_fired", "guardian_cache_lookups", `guardian_action="block"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}
}
