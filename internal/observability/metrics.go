package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the gateway. A zero value is a
// valid no-op collector.
type MetricsCollector struct {
	meter metric.Meter

	backendRequests metric.Int64Counter
	backendLatency  metric.Float64Histogram

	accessOutcomes metric.Int64Counter

	tokenVerifications metric.Int64Counter
	jwksFetches        metric.Int64Counter

	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	collector, err := newCollector(provider.Meter("subsidypay"))
	if err != nil {
		return nil, err
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}
	return collector, nil
}

func newCollector(meter metric.Meter) (*MetricsCollector, error) {
	backendRequests, err := meter.Int64Counter(
		"subsidypay.backend.requests.total",
		metric.WithDescription("Backend API calls by operation and result code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend_requests counter: %w", err)
	}

	backendLatency, err := meter.Float64Histogram(
		"subsidypay.backend.latency",
		metric.WithDescription("Backend API call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend_latency histogram: %w", err)
	}

	accessOutcomes, err := meter.Int64Counter(
		"subsidypay.access.outcomes.total",
		metric.WithDescription("Service run resolutions by outcome"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access_outcomes counter: %w", err)
	}

	tokenVerifications, err := meter.Int64Counter(
		"subsidypay.auth.verifications.total",
		metric.WithDescription("Bearer token verifications by result"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_verifications counter: %w", err)
	}

	jwksFetches, err := meter.Int64Counter(
		"subsidypay.auth.jwks_fetches.total",
		metric.WithDescription("Remote signing key set fetches by result"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks_fetches counter: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"subsidypay.http.requests.total",
		metric.WithDescription("Inbound HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}

	httpLatency, err := meter.Float64Histogram(
		"subsidypay.http.latency",
		metric.WithDescription("Inbound HTTP request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_latency histogram: %w", err)
	}

	return &MetricsCollector{
		meter:              meter,
		backendRequests:    backendRequests,
		backendLatency:     backendLatency,
		accessOutcomes:     accessOutcomes,
		tokenVerifications: tokenVerifications,
		jwksFetches:        jwksFetches,
		httpRequests:       httpRequests,
		httpLatency:        httpLatency,
	}, nil
}

// Handler returns the Prometheus scrape handler.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// StartPrometheusServer starts a dedicated Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.prometheusServer == nil {
		return nil
	}
	return m.prometheusServer.Shutdown(ctx)
}

// RecordBackendRequest records one backend API call. code is "ok" on success.
func (m *MetricsCollector) RecordBackendRequest(ctx context.Context, operation, code string, latency time.Duration) {
	if m == nil || m.backendRequests == nil {
		return
	}
	m.backendRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("code", code),
	))
	m.backendLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAccessOutcome records the terminal state of a service run resolution.
func (m *MetricsCollector) RecordAccessOutcome(ctx context.Context, service, mode, code string) {
	if m == nil || m.accessOutcomes == nil {
		return
	}
	m.accessOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("mode", mode),
		attribute.String("code", code),
	))
}

// RecordTokenVerification records a bearer token verification result.
func (m *MetricsCollector) RecordTokenVerification(ctx context.Context, result string) {
	if m == nil || m.tokenVerifications == nil {
		return
	}
	m.tokenVerifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordJWKSFetch records a remote key set fetch.
func (m *MetricsCollector) RecordJWKSFetch(ctx context.Context, result string) {
	if m == nil || m.jwksFetches == nil {
		return
	}
	m.jwksFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordHTTPServerRequest records an inbound HTTP request.
func (m *MetricsCollector) RecordHTTPServerRequest(ctx context.Context, method, route string, status int, latency time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpLatency.Record(ctx, latency.Seconds(), attrs)
}
