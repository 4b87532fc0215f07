// Package backend is the typed client for the remote campaign API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "subsidypay/internal/errors"
	"subsidypay/internal/httpclient"
	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
	"subsidypay/internal/payment"

	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultTimeout          = 15 * time.Second
	defaultMaxResponseBytes = 4 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	MaxResponseBytes int64
	// CircuitBreaker guards the default transport with a process-wide
	// breaker that opens on repeated connection failures.
	CircuitBreaker bool
}

// Client calls the campaign backend. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	timeout    time.Duration
	maxBytes   int64
	httpClient *http.Client
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

// WithObservability records metrics and spans for every call.
func WithObservability(metrics *observability.MetricsCollector, tracer *observability.TracerProvider) Option {
	return func(c *Client) {
		c.metrics = metrics
		c.tracer = tracer
	}
}

// NewClient builds a Client. With cfg.CircuitBreaker set, an unreachable
// backend fails fast as backend_unavailable.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base, err := httpclient.ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	c := &Client{
		baseURL:  base,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		timeout:  timeout,
		maxBytes: maxBytes,
		logger:   logging.NewComponentLogger("BackendClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		// The per-call context deadline governs; the client timeout is a backstop.
		if cfg.CircuitBreaker {
			c.httpClient = httpclient.NewWithCircuitBreaker(timeout+time.Second, c.logger, "backend")
		} else {
			c.httpClient = httpclient.New(timeout+time.Second, c.logger)
		}
	}
	return c, nil
}

// SearchServices queries the service catalog.
func (c *Client) SearchServices(ctx context.Context, params SearchParams) (*SearchResponse, error) {
	query := url.Values{}
	setQuery(query, "q", params.Query)
	setQuery(query, "category", params.Category)
	if params.MaxBudgetCents != nil {
		query.Set("max_budget_cents", strconv.FormatUint(*params.MaxBudgetCents, 10))
	}
	setQuery(query, "intent", params.Intent)
	setQuery(query, "session_token", params.SessionToken)

	var out SearchResponse
	if err := c.do(ctx, "search_services", http.MethodGet, "/services", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthenticateUser registers or logs in a user and returns a session token.
func (c *Client) AuthenticateUser(ctx context.Context, req AuthRequest) (*AuthResponse, error) {
	if req.Roles == nil {
		req.Roles = []string{}
	}
	if req.ToolsUsed == nil {
		req.ToolsUsed = []string{}
	}
	var out AuthResponse
	if err := c.do(ctx, "authenticate_user", http.MethodPost, "/auth", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTaskDetails fetches the task attached to a campaign.
func (c *Client) GetTaskDetails(ctx context.Context, campaignID, sessionToken string) (*TaskResponse, error) {
	query := url.Values{}
	setQuery(query, "session_token", sessionToken)

	var out TaskResponse
	path := "/tasks/" + url.PathEscape(campaignID)
	if err := c.do(ctx, "get_task_details", http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteTask records a task completion with the user's consent.
func (c *Client) CompleteTask(ctx context.Context, campaignID string, req CompleteTaskRequest) (*CompleteTaskResponse, error) {
	var out CompleteTaskResponse
	path := "/tasks/" + url.PathEscape(campaignID) + "/complete"
	if err := c.do(ctx, "complete_task", http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunService attempts a sponsored run of service.
func (c *Client) RunService(ctx context.Context, service string, req RunServiceRequest) (*RunServiceResponse, error) {
	var out RunServiceResponse
	path := "/services/" + url.PathEscape(service) + "/run"
	if err := c.do(ctx, "run_service", http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunProxyService runs service on the direct-pay path for a user.
func (c *Client) RunProxyService(ctx context.Context, service string, req ProxyRunRequest) (*RunServiceResponse, error) {
	var out RunServiceResponse
	path := "/proxy/" + url.PathEscape(service) + "/run"
	if err := c.do(ctx, "run_proxy_service", http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserStatus returns the user's identity, completed tasks and unlocked services.
func (c *Client) GetUserStatus(ctx context.Context, sessionToken string) (*UserStatus, error) {
	query := url.Values{}
	setQuery(query, "session_token", sessionToken)

	var out UserStatus
	if err := c.do(ctx, "get_user_status", http.MethodGet, "/user/status", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPreferences returns the user's task preferences.
func (c *Client) GetPreferences(ctx context.Context, sessionToken string) (*Preferences, error) {
	query := url.Values{}
	setQuery(query, "session_token", sessionToken)

	var out Preferences
	if err := c.do(ctx, "get_preferences", http.MethodGet, "/preferences", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPreferences replaces the user's task preferences.
func (c *Client) SetPreferences(ctx context.Context, req SetPreferencesRequest) (*SetPreferencesResponse, error) {
	if req.Preferences == nil {
		req.Preferences = []TaskPreference{}
	}
	var out SetPreferencesResponse
	if err := c.do(ctx, "set_preferences", http.MethodPost, "/preferences", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any, out any) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanBackendRequest,
		attribute.String(observability.AttrOperation, op),
	)
	defer func() {
		code := "ok"
		if be, ok := AsError(err); ok {
			code = be.Code
		} else if err != nil {
			code = "unexpected_error"
		}
		span.SetAttributes(attribute.String(observability.AttrCode, code))
		observability.EndSpan(span, err)
		c.metrics.RecordBackendRequest(ctx, op, code, time.Since(started))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	target := c.baseURL.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log := logging.FromContext(ctx, c.logger)
	log.Debug("%s %s (%s)", method, path, op)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(log, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := httpclient.ReadBody(resp.Body, c.maxBytes)
	if err != nil {
		if apperrors.IsTimeout(err) {
			return c.transportError(log, op, err)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return statusError(resp.StatusCode, nil)
		}
		return fmt.Errorf("read %s response: %w", op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		be := statusError(resp.StatusCode, data)
		log.Info("%s returned %s (status %d)", op, be.Code, resp.StatusCode)
		return be
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) transportError(log logging.Logger, op string, err error) *Error {
	switch apperrors.ClassifyTransport(err) {
	case apperrors.FailureTimeout:
		log.Warn("%s timed out: %v", op, err)
		return &Error{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("Backend request timed out after %s", c.timeout),
			cause:   err,
		}
	default:
		log.Warn("%s failed: %v", op, err)
		return &Error{
			Code:    CodeUnavailable,
			Message: fmt.Sprintf("Backend is unavailable: %v", err),
			cause:   err,
		}
	}
}

// statusError maps a non-2xx response body to the error taxonomy.
func statusError(status int, data []byte) *Error {
	if len(data) > 0 {
		var envelope errorEnvelope
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil &&
			envelope.Error.Code != "" && envelope.Error.Message != "" {
			return &Error{
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Details: envelope.Error.Details,
				Status:  status,
			}
		}
		if status == http.StatusPaymentRequired {
			if req, ok := payment.Decode(data); ok {
				message := req.Message
				if message == "" {
					message = "Payment required"
				}
				return &Error{
					Code:    CodePaymentRequired,
					Message: message,
					Details: req,
					Status:  status,
				}
			}
		}
	}
	return &Error{
		Code:    CodeBackendError,
		Message: fmt.Sprintf("Backend request failed with status %d", status),
		Status:  status,
	}
}
