package observability

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "subsidypay/internal/utils/id"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
	assert.Equal(t, "subsidypay", config.Tracing.ServiceName)
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestLoadConfig_NonExistent(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
observability:
  logging:
    level: debug
    format: text
  metrics:
    enabled: true
    prometheus_port: 9464
  tracing:
    enabled: true
    exporter: zipkin
    sample_rate: 0.5
    service_name: subsidypay-test
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, 9464, config.Metrics.PrometheusPort)
	assert.True(t, config.Tracing.Enabled)
	assert.Equal(t, "zipkin", config.Tracing.Exporter)
	assert.Equal(t, 0.5, config.Tracing.SampleRate)
	assert.Equal(t, "subsidypay-test", config.Tracing.ServiceName)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
observability:
  logging:
    level: warn
  metrics:
    enabled: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("observability: [unclosed"), 0o644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)
}

func TestLoggerWithContextAddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "text", Output: &buf})

	ctx := id.WithRequestID(context.Background(), "req-123")
	logger.WithContext(ctx).Info("resolved")

	out := buf.String()
	assert.Contains(t, out, "request_id=req-123")
	assert.Contains(t, out, "resolved")
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, "shown")
}

func TestSanitizeAPIKey(t *testing.T) {
	assert.Equal(t, "***", SanitizeAPIKey("short"))
	assert.Equal(t, "sk-inter...cdef", SanitizeAPIKey("sk-internal-0123456789abcdef"))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *MetricsCollector
	assert.NotPanics(t, func() {
		m.RecordBackendRequest(context.Background(), "run_service", "ok", 0)
		m.RecordAccessOutcome(context.Background(), "design", "service_executed", "")
		m.RecordTokenVerification(context.Background(), "valid")
		m.RecordJWKSFetch(context.Background(), "ok")
		m.RecordHTTPServerRequest(context.Background(), "GET", "/health", 200, 0)
	})
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestNilTracerStartsNoopSpan(t *testing.T) {
	var tp *TracerProvider
	ctx, span := tp.StartSpan(context.Background(), SpanResolveRun)
	require.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	EndSpan(span, nil)
}
