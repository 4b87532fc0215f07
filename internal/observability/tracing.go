package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	id "subsidypay/internal/utils/id"
)

// TracingConfig selects the span exporter. Exporter is "otlp" (the
// default) or "zipkin"; SampleRate outside (0, 1] means sample everything.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

const (
	tracerName            = "subsidypay"
	defaultOTLPEndpoint   = "localhost:4318"
	defaultZipkinEndpoint = "http://localhost:9411/api/v2/spans"
)

// TracerProvider starts spans for backend calls, resolutions and token
// checks. The zero value and nil both trace nothing.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider installs a global provider exporting to config.Exporter.
// Disabled tracing returns a no-op provider.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return &TracerProvider{tracer: noopTracer}, nil
	}

	exporter, err := newSpanExporter(config)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(firstNonEmpty(config.ServiceName, tracerName)),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	rate := config.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider, tracer: provider.Tracer(tracerName)}, nil
}

func newSpanExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch strings.ToLower(strings.TrimSpace(config.Exporter)) {
	case "", "otlp":
		exporter, err = otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(firstNonEmpty(config.OTLPEndpoint, defaultOTLPEndpoint)),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		exporter, err = zipkin.New(firstNonEmpty(config.ZipkinEndpoint, defaultZipkinEndpoint))
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("%s exporter: %w", config.Exporter, err)
	}
	return exporter, nil
}

func firstNonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// StartSpan starts a new span. A nil provider yields a no-op span.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := noopTracer
	if tp != nil && tp.tracer != nil {
		tracer = tp.tracer
	}
	if requestID := id.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

var noopTracer = noop.NewTracerProvider().Tracer(tracerName)

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Span names.
const (
	SpanHTTPServer     = "subsidypay.http.request"
	SpanBackendRequest = "subsidypay.backend.request"
	SpanResolveRun     = "subsidypay.access.resolve_run"
	SpanVerifyToken    = "subsidypay.auth.verify"
	SpanJWKSFetch      = "subsidypay.auth.jwks_fetch"
)

// Span attribute keys.
const (
	AttrRequestID = "subsidypay.request_id"
	AttrService   = "subsidypay.service"
	AttrOperation = "subsidypay.backend.operation"
	AttrMode      = "subsidypay.access.mode"
	AttrCode      = "subsidypay.code"
)
