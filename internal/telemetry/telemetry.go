package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/omar-gamzatov/content-guardian/internal/redact"
	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

const instrumentationName = "content-guardian"

// Protocols understood by NewProvider.
const (
	ProtocolGRPC       = "grpc"
	ProtocolHTTP       = "http"
	ProtocolPrometheus = "prometheus"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http | prometheus
	Service  string
	Version  string
	Insecure bool
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter
	metrics http.Handler

	evaluationsCounter metric.Int64Counter
	verdictsCounter    metric.Int64Counter
	requestDuration    metric.Float64Histogram
	modelDuration      metric.Float64Histogram
	rulesFiredCounter  metric.Int64Counter
	cacheCounter       metric.Int64Counter
	droppedCounter     metric.Int64Counter

	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// Noop returns a disabled provider.
func Noop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

// NewProvider configures exporters and providers. When disabled, returns no-op providers.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		return Noop(), nil
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if protocol == "" {
		protocol = ProtocolGRPC
	}
	service := cfg.Service
	if service == "" {
		service = instrumentationName
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	if protocol == ProtocolPrometheus {
		return newPrometheusProvider(res)
	}

	redact.Logf("telemetry enabled (OpenTelemetry OTLP %s) endpoint=%s", protocol, cfg.Endpoint)

	var (
		traceExp  sdktrace.SpanExporter
		metricExp sdkmetric.Exporter
	)
	switch protocol {
	case ProtocolGRPC:
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		if traceExp, err = otlptracegrpc.New(ctx, traceOpts...); err != nil {
			return nil, err
		}
		if metricExp, err = otlpmetricgrpc.New(ctx, metricOpts...); err != nil {
			return nil, err
		}
	case ProtocolHTTP:
		traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		if traceExp, err = otlptracehttp.New(ctx, traceOpts...); err != nil {
			return nil, err
		}
		if metricExp, err = otlpmetrichttp.New(ctx, metricOpts...); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("telemetry: unsupported protocol %q", cfg.Protocol)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:               true,
		tracer:                tp.Tracer(instrumentationName),
		meter:                 mp.Meter(instrumentationName),
		shutdownTraceProvider: tp.Shutdown,
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

// newPrometheusProvider exposes metrics for scraping. Each provider gets its
// own registry so several providers can coexist in one process.
func newPrometheusProvider(res *resource.Resource) (*Provider, error) {
	reg := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	p := &Provider{
		Enabled:               true,
		tracer:                tracenoop.NewTracerProvider().Tracer(""),
		meter:                 mp.Meter(instrumentationName),
		metrics:               promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	if p == nil {
		return
	}
	// Instrument errors are ignored; telemetry is best-effort.
	p.evaluationsCounter, _ = p.meter.Int64Counter("guardian_rule_evaluations_total")
	p.verdictsCounter, _ = p.meter.Int64Counter("guardian_verdicts_total")
	p.requestDuration, _ = p.meter.Float64Histogram("guardian_request_duration_ms")
	p.modelDuration, _ = p.meter.Float64Histogram("guardian_model_duration_ms")
	p.rulesFiredCounter, _ = p.meter.Int64Counter("guardian_rules_fired_total")
	p.cacheCounter, _ = p.meter.Int64Counter("guardian_cache_lookups_total")
	p.droppedCounter, _ = p.meter.Int64Counter("guardian_activation_dropped_total")
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return metricnoop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// MetricsHandler serves the scrape endpoint. Nil unless the protocol is prometheus.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil {
		return nil
	}
	return p.metrics
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// RecordEvaluation counts one standalone rule evaluation.
func (p *Provider) RecordEvaluation(ctx context.Context, outcome string) {
	if p == nil || p.evaluationsCounter == nil {
		return
	}
	p.evaluationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("guardian.outcome", outcome)))
}

// RecordVerdict emits counters and the request histogram with safe labels.
func (p *Provider) RecordVerdict(ctx context.Context, endpoint, policyVersion string, v verdict.Verdict, cached bool, durMs float64) {
	if p == nil || p.verdictsCounter == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("guardian.endpoint", endpoint),
		attribute.String("guardian.action", string(v.Action)),
		attribute.String("guardian.severity", string(v.Severity)),
		attribute.String("guardian.cached", strconv.FormatBool(cached)),
	)
	p.verdictsCounter.Add(ctx, 1, labels)
	p.requestDuration.Record(ctx, durMs, metric.WithAttributes(attribute.String("guardian.endpoint", endpoint)))
	if v.Explain != nil && len(v.Explain.RulesFired) > 0 {
		n := len(v.Explain.RulesFired)
		p.rulesFiredCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("guardian.policy_version", policyVersion)))
	}
}

// RecordModel records one classifier round trip.
func (p *Provider) RecordModel(ctx context.Context, durMs float64, ok bool) {
	if p == nil || p.modelDuration == nil {
		return
	}
	p.modelDuration.Record(ctx, durMs, metric.WithAttributes(attribute.Bool("guardian.ok", ok)))
}

// RecordCache counts a cache lookup; result is hit, miss or error.
func (p *Provider) RecordCache(ctx context.Context, result string) {
	if p == nil || p.cacheCounter == nil {
		return
	}
	p.cacheCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("guardian.result", result)))
}

// RecordActivationDrop counts an activation event that never reached a sink.
func (p *Provider) RecordActivationDrop(ctx context.Context, reason string) {
	if p == nil || p.droppedCounter == nil {
		return
	}
	p.droppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("guardian.reason", reason)))
}
