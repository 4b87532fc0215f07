package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
)

// ObservabilityMiddleware instruments requests with a span, request metrics
// and a latency log line.
func ObservabilityMiddleware(obs *observability.Observability, latencyLogger logging.Logger) gin.HandlerFunc {
	latencyLogger = logging.OrNop(latencyLogger)
	var metrics *observability.MetricsCollector
	var tracer *observability.TracerProvider
	if obs != nil {
		metrics = obs.Metrics
		tracer = obs.Tracer
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.route", route),
			attribute.String("http.method", c.Request.Method),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", status))
		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		observability.EndSpan(span, err)

		metrics.RecordHTTPServerRequest(ctx, c.Request.Method, route, status, latency)
		logging.FromContext(ctx, latencyLogger).Info(
			"route=%s method=%s status=%d latency_ms=%.2f bytes=%d",
			route,
			c.Request.Method,
			status,
			float64(latency.Microseconds())/1000.0,
			c.Writer.Size(),
		)
	}
}
