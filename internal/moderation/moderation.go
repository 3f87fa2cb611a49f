package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/omar-gamzatov/content-guardian/internal/activation"
	"github.com/omar-gamzatov/content-guardian/internal/cache"
	"github.com/omar-gamzatov/content-guardian/internal/intel"
	"github.com/omar-gamzatov/content-guardian/internal/policy"
	"github.com/omar-gamzatov/content-guardian/internal/provider"
	"github.com/omar-gamzatov/content-guardian/internal/redact"
	"github.com/omar-gamzatov/content-guardian/internal/rules"
	"github.com/omar-gamzatov/content-guardian/internal/telemetry"
	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

var (
	// ErrInvalidRequest marks malformed moderation requests.
	ErrInvalidRequest = errors.New("invalid moderation request")
	// ErrModelUnavailable is returned when a required classifier fails.
	ErrModelUnavailable = errors.New("model unavailable")
)

const (
	defaultLang     = "en"
	contentTypeText = "text"
	noteModelFailed = "model_unavailable"
	noteIntelFailed = "intel_unavailable"
	noteNoModel     = "model_disabled"
)

// Content is the item under moderation.
type Content struct {
	Type     string `json:"type,omitempty"`
	Text     string `json:"text"`
	LangHint string `json:"lang_hint,omitempty"`
}

// Request is a moderation request as accepted by POST /v1/moderations.
type Request struct {
	TenantID      string         `json:"tenant_id"`
	RequestID     string         `json:"request_id,omitempty"`
	ResponseMode  string         `json:"response_mode,omitempty"`
	PolicyVersion string         `json:"policy_version,omitempty"`
	Content       Content        `json:"content"`
	Signals       rules.Signals  `json:"signals,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SLA reports how long the request took and how it was served.
type SLA struct {
	LatencyMs int64  `json:"latency_ms"`
	Mode      string `json:"mode"`
}

// Response is the moderation result.
type Response struct {
	RequestID string          `json:"request_id"`
	Verdict   verdict.Verdict `json:"verdict"`
	SLA       SLA             `json:"sla"`
	Cached    bool            `json:"cached,omitempty"`
	Notes     []string        `json:"notes,omitempty"`
}

// Options wires the pipeline dependencies. A nil Registry applies no rules
// and a nil Classifier skips model scoring; a nil Intel or Cache falls back
// to the noop implementation.
type Options struct {
	Registry      *policy.Registry
	Verdict       verdict.Config
	Intel         intel.Engine
	Classifier    provider.Classifier
	ModelRequired bool
	PIIRedact     bool

	Cache    cache.Cache
	CacheTTL time.Duration

	Emitter         *activation.Emitter
	ActivationLevel string
	Telemetry       *telemetry.Provider

	Now func() time.Time
}

// Service runs moderation requests and standalone verdict aggregation.
type Service struct {
	registry      *policy.Registry
	intel         intel.Engine
	classifier    provider.Classifier
	modelRequired bool
	piiRedact     bool
	cache         cache.Cache
	cacheTTL      time.Duration
	emitter       *activation.Emitter
	level         string
	tel           *telemetry.Provider
	now           func() time.Time

	base        *verdict.Aggregator
	aggregators map[string]*verdict.Aggregator
}

// New validates the verdict configuration once for every loaded policy
// version, so a rule action conflict surfaces at startup.
func New(opts Options) (*Service, error) {
	base, err := verdict.New(opts.Verdict)
	if err != nil {
		return nil, err
	}

	aggs := make(map[string]*verdict.Aggregator)
	for _, v := range opts.Registry.Versions() {
		set, err := opts.Registry.Get(v)
		if err != nil {
			return nil, err
		}
		agg, err := verdict.New(opts.Verdict.WithRuleActions(set.RuleActions()))
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", v, err)
		}
		aggs[v] = agg
	}

	s := &Service{
		registry:      opts.Registry,
		intel:         opts.Intel,
		classifier:    opts.Classifier,
		modelRequired: opts.ModelRequired,
		piiRedact:     opts.PIIRedact,
		cache:         opts.Cache,
		cacheTTL:      opts.CacheTTL,
		emitter:       opts.Emitter,
		level:         opts.ActivationLevel,
		tel:           opts.Telemetry,
		now:           opts.Now,
		base:          base,
		aggregators:   aggs,
	}
	if s.intel == nil {
		s.intel = intel.NewNoop()
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Ready reports whether backing stores are reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// Moderate runs the full pipeline for one content item.
func (s *Service) Moderate(ctx context.Context, req Request) (*Response, error) {
	start := s.now()

	text := normalize(req.Content.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: content.text is required", ErrInvalidRequest)
	}
	if t := strings.ToLower(strings.TrimSpace(req.Content.Type)); t != "" && t != contentTypeText {
		return nil, fmt.Errorf("%w: unsupported content.type %q", ErrInvalidRequest, req.Content.Type)
	}
	mode, err := pickMode(req.ResponseMode)
	if err != nil {
		return nil, err
	}
	lang := strings.ToLower(strings.TrimSpace(req.Content.LangHint))
	if lang == "" {
		lang = defaultLang
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	set, err := s.registry.Get(req.PolicyVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	version := req.PolicyVersion
	if set != nil {
		version = set.Version
	}

	ctx, span := s.tel.Tracer().Start(ctx, "moderation.moderate",
		trace.WithAttributes(telemetry.SafeAttributes(map[string]any{
			"guardian.tenant_id":      req.TenantID,
			"guardian.policy_version": version,
			"guardian.lang":           lang,
			"guardian.mode":           mode,
		})...))
	defer span.End()

	key := cache.Key(req.TenantID, version, lang, text, req.Signals)
	if resp, ok := s.fromCache(ctx, key); ok {
		resp.RequestID = requestID
		resp.Cached = true
		resp.SLA = SLA{LatencyMs: s.now().Sub(start).Milliseconds(), Mode: mode}
		s.finish(ctx, req, resp, version, text, lang, activation.Timings{Total: s.now().Sub(start)})
		return resp, nil
	}

	var (
		timings activation.Timings
		notes   []string
	)

	t0 := s.now()
	signals, err := s.intel.Extract(ctx, text, lang)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		redact.Logf("moderation: intel extract failed for request %s: %v", requestID, err)
		notes = append(notes, noteIntelFailed)
	}
	if signals == nil {
		signals = rules.Signals{}
	}
	for k, v := range req.Signals {
		signals[k] = v
	}
	timings.Intel = s.now().Sub(t0)

	t0 = s.now()
	ruleRes, err := set.Apply(signals)
	timings.Rules = s.now().Sub(t0)
	if err != nil {
		span.SetStatus(codes.Error, "policy evaluation failed")
		return nil, err
	}

	cats := ruleRes.Categories
	var model *verdict.ModelInfo
	if s.classifier != nil {
		t0 = s.now()
		res, err := s.classify(ctx, text, lang)
		timings.Model = s.now().Sub(t0)
		s.tel.RecordModel(ctx, durationMillis(timings.Model), err == nil)
		switch {
		case err != nil && s.modelRequired:
			span.SetStatus(codes.Error, "classifier failed")
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		case err != nil:
			redact.Logf("moderation: classifier failed for request %s: %v", requestID, err)
			notes = append(notes, noteModelFailed)
		default:
			cats = append(cats, res.Categories...)
			model = res.Model
		}
	} else {
		notes = append(notes, noteNoModel)
	}

	in := verdict.Input{
		Categories:    cats,
		PolicyVersion: version,
		RulesFired:    ruleRes.Fired,
		Model:         model,
	}
	if len(cats) > 0 {
		u := uncertainty(cats)
		in.Uncertainty = &u
	}

	v, err := s.aggregatorFor(version).Aggregate(in)
	if err != nil {
		span.SetStatus(codes.Error, "aggregation failed")
		return nil, err
	}

	timings.Total = s.now().Sub(start)
	resp := &Response{
		RequestID: requestID,
		Verdict:   v,
		SLA:       SLA{LatencyMs: timings.Total.Milliseconds(), Mode: mode},
		Notes:     notes,
	}
	if !degraded(notes) {
		s.store(ctx, key, resp)
	}
	s.finish(ctx, req, resp, version, text, lang, timings)
	return resp, nil
}

// Aggregate builds a verdict from caller-supplied scores. When the input
// names a loaded policy version, that version's rule actions apply.
func (s *Service) Aggregate(ctx context.Context, in verdict.Input) (verdict.Verdict, error) {
	start := s.now()
	_, span := s.tel.Tracer().Start(ctx, "verdict.aggregate")
	defer span.End()

	v, err := s.aggregatorFor(in.PolicyVersion).Aggregate(in)
	if err != nil {
		span.SetStatus(codes.Error, "aggregation failed")
		return verdict.Verdict{}, err
	}
	total := s.now().Sub(start)
	s.tel.RecordVerdict(ctx, activation.EndpointVerdicts, in.PolicyVersion, v, false, durationMillis(total))
	s.emitter.Emit(ctx, activation.BuildEvent(activation.BuildParams{
		Endpoint:      activation.EndpointVerdicts,
		PolicyVersion: in.PolicyVersion,
		Verdict:       v,
		LoggingLevel:  s.level,
		IntelStatus:   "skipped",
		Timings:       activation.Timings{Total: total},
		Now:           start,
	}))
	return v, nil
}

// Evaluate runs a literal policy against signals.
func (s *Service) Evaluate(ctx context.Context, policy, signals any) (any, error) {
	_, span := s.tel.Tracer().Start(ctx, "rules.evaluate")
	defer span.End()

	decision, err := rules.Evaluate(policy, signals)
	outcome := "ok"
	var pe *rules.PolicyError
	switch {
	case errors.As(err, &pe):
		outcome = "policy_error"
	case err != nil:
		outcome = "invalid_input"
	}
	s.tel.RecordEvaluation(ctx, outcome)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	return decision, nil
}

func (s *Service) aggregatorFor(version string) *verdict.Aggregator {
	if agg, ok := s.aggregators[version]; ok {
		return agg
	}
	return s.base
}

func (s *Service) classify(ctx context.Context, text, lang string) (*provider.Result, error) {
	sent := text
	if s.piiRedact {
		sent, _ = s.intel.Redact(text)
	}
	res, err := s.classifier.Classify(ctx, provider.Request{Text: sent, Lang: lang, PIIRedact: s.piiRedact})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &provider.Result{}, nil
	}
	return res, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (*Response, bool) {
	data, err := s.cache.Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		s.tel.RecordCache(ctx, "miss")
		return nil, false
	case err != nil:
		s.tel.RecordCache(ctx, "error")
		redact.Logf("moderation: cache get failed: %v", err)
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		s.tel.RecordCache(ctx, "error")
		redact.Logf("moderation: discarding undecodable cache entry: %v", err)
		return nil, false
	}
	s.tel.RecordCache(ctx, "hit")
	return &resp, true
}

// degraded reports whether a dependency failure shaped the verdict; such
// verdicts are not cached so recovery takes effect on the next request.
func degraded(notes []string) bool {
	for _, n := range notes {
		if n == noteModelFailed || n == noteIntelFailed {
			return true
		}
	}
	return false
}

func (s *Service) store(ctx context.Context, key string, resp *Response) {
	if s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		redact.Logf("moderation: encode cache entry: %v", err)
		return
	}
	// the request context may be cancelled right after the response is written
	if err := s.cache.Set(context.WithoutCancel(ctx), key, data, s.cacheTTL); err != nil {
		redact.Logf("moderation: cache set failed: %v", err)
	}
}

func (s *Service) finish(ctx context.Context, req Request, resp *Response, version, text, lang string, timings activation.Timings) {
	s.tel.RecordVerdict(ctx, activation.EndpointModerations, version, resp.Verdict, resp.Cached, durationMillis(timings.Total))

	st := s.intel.Status()
	intelStatus := "disabled"
	if st.Enabled {
		intelStatus = "enabled"
	}
	s.emitter.Emit(ctx, activation.BuildEvent(activation.BuildParams{
		RequestID:          resp.RequestID,
		TenantID:           req.TenantID,
		Endpoint:           activation.EndpointModerations,
		Mode:               resp.SLA.Mode,
		PolicyVersion:      version,
		Verdict:            resp.Verdict,
		Cached:             resp.Cached,
		Text:               text,
		Lang:               lang,
		LoggingLevel:       s.level,
		IntelStatus:        intelStatus,
		IntelBundleVersion: st.BundleVersion,
		Notes:              resp.Notes,
		Timings:            timings,
		Now:                s.now(),
	}))
}

// normalize trims the text and collapses runs of whitespace to one space.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pickMode(m string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "", activation.ModeSync:
		return activation.ModeSync, nil
	case activation.ModeAsync:
		return activation.ModeAsync, nil
	}
	return "", fmt.Errorf("%w: unknown response_mode %q", ErrInvalidRequest, m)
}

// uncertainty is 1 minus the highest score, kept inside [0,1] so that
// out-of-range scores are reported by the aggregator rather than here.
func uncertainty(cats []verdict.CategoryScore) float64 {
	maxScore := 0.0
	for _, c := range cats {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	if maxScore > 1 {
		maxScore = 1
	}
	return 1 - maxScore
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
