package moderation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omar-gamzatov/content-guardian/internal/activation"
	"github.com/omar-gamzatov/content-guardian/internal/cache"
	"github.com/omar-gamzatov/content-guardian/internal/config"
	"github.com/omar-gamzatov/content-guardian/internal/intel"
	"github.com/omar-gamzatov/content-guardian/internal/moderation"
	"github.com/omar-gamzatov/content-guardian/internal/policy"
	"github.com/omar-gamzatov/content-guardian/internal/provider"
	"github.com/omar-gamzatov/content-guardian/internal/rules"
	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

const guardYAML = `
version: v1
rules:
  - id: threat-keywords
    category: violence_threat
    score: 0.85
    action: block
    when:
      ">": [{signal: kw_threat}, 0]
  - id: contact-info
    category: pii
    score: 0.4
    when: {signal: has_email}
`

type captureSink struct {
	mu     sync.Mutex
	events []*activation.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, ev *activation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) Events() []*activation.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*activation.Event(nil), s.events...)
}

type fixture struct {
	svc     *moderation.Service
	emitter *activation.Emitter
	sink    *captureSink
}

func newClassifier() *provider.FakeClassifier {
	return provider.NewFake("detoxify-v1", verdict.CategoryScore{Name: "toxicity", Score: 0.3, Source: verdict.SourceModel})
}

func newFixture(t *testing.T, mutate func(*moderation.Options)) *fixture {
	t.Helper()

	set, err := policy.Parse([]byte(guardYAML))
	require.NoError(t, err)
	reg, err := policy.NewRegistry("", set)
	require.NoError(t, err)

	sink := &captureSink{}
	em := activation.NewEmitter(activation.EmitterConfig{QueueSize: 32}, []activation.Sink{sink})
	t.Cleanup(func() { em.Close(context.Background()) })

	opts := moderation.Options{
		Registry:   reg,
		Verdict:    verdict.DefaultConfig(),
		Intel:      intel.NewRegexBundle(config.Default().Intel),
		Classifier: newClassifier(),
		Cache:      cache.NewMemory(100),
		CacheTTL:   time.Minute,
		Emitter:    em,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := moderation.New(opts)
	require.NoError(t, err)
	return &fixture{svc: svc, emitter: em, sink: sink}
}

func TestModerate_ThreatIsBlocked(t *testing.T) {
	clf := newClassifier()
	f := newFixture(t, func(o *moderation.Options) { o.Classifier = clf })

	resp, err := f.svc.Moderate(context.Background(), moderation.Request{
		TenantID: "tenant-a",
		Content:  moderation.Content{Type: "text", Text: "  I will   KILL you  "},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "sync", resp.SLA.Mode)
	assert.False(t, resp.Cached)
	assert.Empty(t, resp.Notes)

	v := resp.Verdict
	assert.Equal(t, verdict.ActionBlock, v.Action)
	assert.Equal(t, verdict.SeverityHigh, v.Severity)
	assert.Equal(t, []verdict.CategoryScore{
		{Name: "violence_threat", Score: 0.85, Source: verdict.SourceRule},
		{Name: "toxicity", Score: 0.3, Source: verdict.SourceModel},
	}, v.Categories)

	require.NotNil(t, v.Explain)
	assert.Equal(t, "v1", v.Explain.PolicyVersion)
	assert.Equal(t, []string{"threat-keywords"}, v.Explain.RulesFired)
	require.NotNil(t, v.Explain.Uncertainty)
	assert.InDelta(t, 0.15, *v.Explain.Uncertainty, 1e-9)
	require.NotNil(t, v.Explain.Model)
	assert.Equal(t, "detoxify-v1", v.Explain.Model.Name)

	reqs := clf.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "I will KILL you", reqs[0].Text)
	assert.Equal(t, "en", reqs[0].Lang)
}

func TestModerate_CacheHit(t *testing.T) {
	clf := newClassifier()
	f := newFixture(t, func(o *moderation.Options) { o.Classifier = clf })
	ctx := context.Background()
	req := moderation.Request{TenantID: "t", RequestID: "first", Content: moderation.Content{Text: "you are an idiot"}}

	first, err := f.svc.Moderate(ctx, req)
	require.NoError(t, err)

	req.RequestID = "second"
	req.Content.Text = "you   are an idiot "
	second, err := f.svc.Moderate(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, "second", second.RequestID)
	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Len(t, clf.Requests(), 1, "cached request must not reach the model")

	req.TenantID = "other"
	third, err := f.svc.Moderate(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Cached, "tenants do not share cache entries")
}

func TestModerate_CallerSignalsWin(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.svc.Moderate(context.Background(), moderation.Request{
		Content: moderation.Content{Text: "hello there"},
		Signals: rules.Signals{"kw_threat": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, verdict.ActionBlock, resp.Verdict.Action)
	assert.Equal(t, []string{"threat-keywords"}, resp.Verdict.Explain.RulesFired)

	resp, err = f.svc.Moderate(context.Background(), moderation.Request{
		Content: moderation.Content{Text: "I will kill you"},
		Signals: rules.Signals{"kw_threat": 0},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Verdict.Explain.RulesFired)
	assert.Equal(t, verdict.ActionAllow, resp.Verdict.Action)
}

func TestModerate_ModelFailure(t *testing.T) {
	failing := newClassifier()
	failing.Error = errors.New("connection refused")

	f := newFixture(t, func(o *moderation.Options) { o.Classifier = failing })
	resp, err := f.svc.Moderate(context.Background(), moderation.Request{Content: moderation.Content{Text: "I will kill you"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"model_unavailable"}, resp.Notes)
	assert.Equal(t, verdict.ActionBlock, resp.Verdict.Action)
	assert.Nil(t, resp.Verdict.Explain.Model)

	f = newFixture(t, func(o *moderation.Options) {
		o.Classifier = failing
		o.ModelRequired = true
	})
	_, err = f.svc.Moderate(context.Background(), moderation.Request{Content: moderation.Content{Text: "I will kill you"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, moderation.ErrModelUnavailable)
}

func TestModerate_DegradedVerdictNotCached(t *testing.T) {
	clf := provider.NewFake("detoxify-v1", verdict.CategoryScore{Name: "toxicity", Score: 0.95, Source: verdict.SourceModel})
	clf.Error = errors.New("connection refused")
	f := newFixture(t, func(o *moderation.Options) { o.Classifier = clf })
	ctx := context.Background()
	req := moderation.Request{TenantID: "t", Content: moderation.Content{Text: "you are worthless"}}

	first, err := f.svc.Moderate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"model_unavailable"}, first.Notes)
	assert.Equal(t, verdict.ActionAllow, first.Verdict.Action)

	clf.Error = nil
	second, err := f.svc.Moderate(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Cached, "verdict built without the model must not be cached")
	assert.Empty(t, second.Notes)
	assert.Equal(t, verdict.ActionBlock, second.Verdict.Action)
	assert.Len(t, clf.Requests(), 2)

	third, err := f.svc.Moderate(ctx, req)
	require.NoError(t, err)
	assert.True(t, third.Cached)
	assert.Len(t, clf.Requests(), 2)
}

func TestModerate_PIIRedactedBeforeModel(t *testing.T) {
	clf := newClassifier()
	f := newFixture(t, func(o *moderation.Options) {
		o.Classifier = clf
		o.PIIRedact = true
	})

	resp, err := f.svc.Moderate(context.Background(), moderation.Request{Content: moderation.Content{Text: "write to bob@example.com", LangHint: "EN"}})
	require.NoError(t, err)

	reqs := clf.Requests()
	require.Len(t, reqs, 1)
	assert.NotContains(t, reqs[0].Text, "bob@example.com")
	assert.Contains(t, reqs[0].Text, "[REDACTED_EMAIL]")
	assert.True(t, reqs[0].PIIRedact)
	assert.Equal(t, "en", reqs[0].Lang)

	// has_email is computed on the original text
	assert.Equal(t, []string{"contact-info"}, resp.Verdict.Explain.RulesFired)
	assert.Equal(t, verdict.ActionAllow, resp.Verdict.Action)
	assert.Equal(t, verdict.SeverityLow, resp.Verdict.Severity)
}

func TestModerate_WithoutRulesOrModel(t *testing.T) {
	svc, err := moderation.New(moderation.Options{})
	require.NoError(t, err)

	resp, err := svc.Moderate(context.Background(), moderation.Request{Content: moderation.Content{Text: "I will kill you"}})
	require.NoError(t, err)
	assert.Equal(t, verdict.ActionAllow, resp.Verdict.Action)
	assert.Empty(t, resp.Verdict.Categories)
	assert.Nil(t, resp.Verdict.Explain)
	assert.Equal(t, []string{"model_disabled"}, resp.Notes)
	assert.NoError(t, svc.Ready(context.Background()))
}

func TestModerate_InvalidRequests(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[string]moderation.Request{
		"empty text":      {Content: moderation.Content{Text: " \n\t "}},
		"image content":   {Content: moderation.Content{Type: "image", Text: "x"}},
		"unknown mode":    {ResponseMode: "batch", Content: moderation.Content{Text: "x"}},
		"unknown version": {PolicyVersion: "v9", Content: moderation.Content{Text: "x"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Moderate(context.Background(), req)
			assert.ErrorIs(t, err, moderation.ErrInvalidRequest)
		})
	}
}

func TestModerate_EmitsActivation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Moderate(context.Background(), moderation.Request{
		TenantID:     "tenant-a",
		RequestID:    "req-1",
		ResponseMode: "ASYNC",
		Content:      moderation.Content{Text: "I will kill you"},
	})
	require.NoError(t, err)
	f.emitter.Close(context.Background())

	events := f.sink.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "tenant-a", ev.TenantID)
	assert.Equal(t, activation.EndpointModerations, ev.Endpoint)
	assert.Equal(t, activation.ModeAsync, ev.Mode)
	assert.Equal(t, "v1", ev.PolicyVersion)
	assert.Equal(t, "enabled", ev.Intel.Status)
	assert.True(t, ev.Summary.Blocked)
	assert.Nil(t, ev.Preview, "metadata level carries no text")
}

func TestAggregate_AppliesPolicyRuleActions(t *testing.T) {
	f := newFixture(t, nil)
	in := verdict.Input{
		Categories: []verdict.CategoryScore{{Name: "insult", Score: 0.2, Source: verdict.SourceModel}},
		RulesFired: []string{"threat-keywords"},
	}

	v, err := f.svc.Aggregate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, verdict.ActionAllow, v.Action, "rule actions only apply with their policy version")

	in.PolicyVersion = "v1"
	v, err = f.svc.Aggregate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, verdict.ActionBlock, v.Action)
	assert.Equal(t, verdict.SeverityHigh, v.Severity)

	_, err = f.svc.Aggregate(context.Background(), verdict.Input{
		Categories: []verdict.CategoryScore{{Name: "insult", Score: 1.5, Source: verdict.SourceModel}},
	})
	var aggErr *verdict.AggregationError
	assert.ErrorAs(t, err, &aggErr)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, nil)

	decision, err := f.svc.Evaluate(context.Background(),
		map[string]any{">": []any{map[string]any{"signal": "toxicity"}, 0.8}},
		map[string]any{"toxicity": 0.9})
	require.NoError(t, err)
	assert.Equal(t, true, decision)

	_, err = f.svc.Evaluate(context.Background(),
		map[string]any{">": []any{"a", true}},
		map[string]any{})
	var pe *rules.PolicyError
	assert.ErrorAs(t, err, &pe)

	_, err = f.svc.Evaluate(context.Background(), "not an object", map[string]any{})
	assert.ErrorIs(t, err, rules.ErrInvalidInput)
}

func TestNew_RejectsBadVerdictConfig(t *testing.T) {
	cfg := verdict.DefaultConfig()
	cfg.Thresholds = verdict.Thresholds{Medium: 0.9, High: 0.5}
	_, err := moderation.New(moderation.Options{Verdict: cfg})
	assert.Error(t, err)
}
