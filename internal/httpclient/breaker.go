package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "subsidypay/internal/errors"
	"subsidypay/internal/logging"
)

type circuitBreakerRoundTripper struct {
	base    http.RoundTripper
	breaker *apperrors.CircuitBreaker
}

// NewWithCircuitBreaker builds an HTTP client guarded by a circuit breaker.
func NewWithCircuitBreaker(timeout time.Duration, logger logging.Logger, name string) *http.Client {
	return NewWithCircuitBreakerConfig(timeout, logger, name, apperrors.DefaultCircuitBreakerConfig())
}

// NewWithCircuitBreakerConfig builds an HTTP client guarded by a custom circuit breaker config.
func NewWithCircuitBreakerConfig(timeout time.Duration, logger logging.Logger, name string, config apperrors.CircuitBreakerConfig) *http.Client {
	client := New(timeout, logger)
	if config.Logger == nil {
		config.Logger = logger
	}
	client.Transport = WrapTransportWithCircuitBreaker(client.Transport, name, config)
	return client
}

// WrapTransportWithCircuitBreaker wraps a transport with circuit breaker protection.
func WrapTransportWithCircuitBreaker(base http.RoundTripper, name string, config apperrors.CircuitBreakerConfig) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if name == "" {
		name = "http-client"
	}
	return &circuitBreakerRoundTripper{
		base:    base,
		breaker: apperrors.NewCircuitBreaker(name, config),
	}
}

func (t *circuitBreakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.breaker.Mark(tripError(err))
		return nil, err
	}
	// Any response, even a 5xx, proves the upstream is reachable.
	t.breaker.Mark(nil)
	return resp, nil
}

// tripError returns err when it counts against the breaker: connection
// failures and deadline expiry. Caller cancellation never counts.
func tripError(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if apperrors.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
