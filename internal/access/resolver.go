package access

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"subsidypay/internal/backend"
	"subsidypay/internal/logging"
	"subsidypay/internal/observability"
	"subsidypay/internal/payment"
)

const (
	// DirectPaySentinel as run input skips the sponsored attempt.
	DirectPaySentinel = "__pay_direct__"
	// DirectPayInput replaces the sentinel when calling the proxy run.
	DirectPayInput = "direct-pay-request"
)

// Backend is the subset of the campaign API the resolver needs.
type Backend interface {
	RunService(ctx context.Context, service string, req backend.RunServiceRequest) (*backend.RunServiceResponse, error)
	RunProxyService(ctx context.Context, service string, req backend.ProxyRunRequest) (*backend.RunServiceResponse, error)
	SearchServices(ctx context.Context, params backend.SearchParams) (*backend.SearchResponse, error)
	GetTaskDetails(ctx context.Context, campaignID, sessionToken string) (*backend.TaskResponse, error)
	GetUserStatus(ctx context.Context, sessionToken string) (*backend.UserStatus, error)
}

// Resolver turns a service run request into exactly one Outcome. It keeps no
// state between calls and never retries.
type Resolver struct {
	backend Backend
	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrNop(logger) }
}

// WithObservability records outcome metrics and a span per resolution.
func WithObservability(metrics *observability.MetricsCollector, tracer *observability.TracerProvider) Option {
	return func(r *Resolver) {
		r.metrics = metrics
		r.tracer = tracer
	}
}

// NewResolver builds a Resolver over b.
func NewResolver(b Backend, opts ...Option) *Resolver {
	r := &Resolver{
		backend: b,
		logger:  logging.NewComponentLogger("AccessResolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsDirectPay reports whether input is the direct-pay sentinel.
func IsDirectPay(input string) bool {
	return strings.EqualFold(strings.TrimSpace(input), DirectPaySentinel)
}

// ResolveServiceRun runs service for the session, falling back to task
// discovery or direct payment as the backend dictates. Backend calls are
// issued sequentially; each depends on the previous result.
func (r *Resolver) ResolveServiceRun(ctx context.Context, service, input, sessionToken string) (outcome Outcome) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanResolveRun,
		attribute.String(observability.AttrService, service),
	)
	defer func() {
		code := ""
		if f, ok := outcome.(*Failure); ok {
			code = f.Code
		}
		span.SetAttributes(
			attribute.String(observability.AttrMode, string(outcome.Mode())),
			attribute.String(observability.AttrCode, code),
		)
		observability.EndSpan(span, nil)
		r.metrics.RecordAccessOutcome(ctx, service, string(outcome.Mode()), code)
		logging.FromContext(ctx, r.logger).Info("Resolved %s run: %s %s", service, outcome.Mode(), code)
	}()

	if IsDirectPay(input) {
		return r.payDirect(ctx, service, DirectPayInput, sessionToken)
	}

	resp, err := r.backend.RunService(ctx, service, backend.RunServiceRequest{
		SessionToken: sessionToken,
		Input:        input,
	})
	if err == nil {
		return executed(resp)
	}

	be, ok := backend.AsError(err)
	if !ok {
		return unexpected(ctx, r.logger, err)
	}
	switch be.Code {
	case backend.CodePaymentRequired:
		return paymentOutcome(be)
	case backend.CodePreconditionRequired:
		switch ClassifyPrecondition(be.Message) {
		case PreconditionTaskRequired:
			return r.discoverTask(ctx, service, sessionToken)
		case PreconditionNoSponsor:
			return r.payDirect(ctx, service, input, sessionToken)
		}
	}
	return failureFrom(be)
}

// discoverTask finds the campaign sponsoring service and returns its task.
func (r *Resolver) discoverTask(ctx context.Context, service, sessionToken string) Outcome {
	search, err := r.backend.SearchServices(ctx, backend.SearchParams{
		Query:        service,
		SessionToken: sessionToken,
	})
	if err != nil {
		return r.failure(ctx, err)
	}

	match, ok := ActiveServiceTask(service, search)
	if !ok {
		return &Failure{
			Code:    CodeNoMatchingCampaign,
			Message: fmt.Sprintf("No active campaign found for service '%s'.", service),
		}
	}

	task, err := r.backend.GetTaskDetails(ctx, match.CampaignID, sessionToken)
	if err != nil {
		return r.failure(ctx, err)
	}
	if task == nil {
		return &Failure{Code: CodeUnexpected, Message: "Backend returned empty task details."}
	}

	out := &TaskRequired{
		Service:            service,
		CampaignID:         firstNonEmpty(task.CampaignID, match.CampaignID),
		CampaignName:       firstNonEmpty(task.CampaignName, match.CampaignName),
		Sponsor:            firstNonEmpty(task.Sponsor, match.Sponsor),
		RequiredTask:       firstNonEmpty(task.RequiredTask, match.RequiredTask),
		TaskDescription:    task.TaskDescription,
		Instructions:       task.TaskInputFormat.Instructions,
		RequiredFields:     nonNil(task.TaskInputFormat.RequiredFields),
		AlreadyCompleted:   task.AlreadyCompleted,
		SubsidyAmountCents: task.SubsidyAmountCents,
		TaskOptions:        TaskOptions(task.TaskInputFormat),
	}
	if out.SubsidyAmountCents == 0 {
		out.SubsidyAmountCents = match.SubsidyAmountCents
	}
	return out
}

// payDirect is the single direct-pay path shared by the sentinel input and
// the no-sponsor precondition.
func (r *Resolver) payDirect(ctx context.Context, service, input, sessionToken string) Outcome {
	status, err := r.backend.GetUserStatus(ctx, sessionToken)
	if err != nil {
		return r.failure(ctx, err)
	}
	if status == nil {
		return &Failure{Code: CodeUnexpected, Message: "Backend returned an empty user status."}
	}
	userID := strings.TrimSpace(status.UserID)
	if userID == "" {
		return &Failure{
			Code:    CodeUserNotFound,
			Message: "Could not resolve the user for direct payment.",
		}
	}

	resp, err := r.backend.RunProxyService(ctx, service, backend.ProxyRunRequest{
		UserID: userID,
		Input:  input,
	})
	if err == nil {
		return executed(resp)
	}
	if be, ok := backend.AsError(err); ok && be.Code == backend.CodePaymentRequired {
		return paymentOutcome(be)
	}
	return r.failure(ctx, err)
}

func (r *Resolver) failure(ctx context.Context, err error) Outcome {
	if be, ok := backend.AsError(err); ok {
		return failureFrom(be)
	}
	return unexpected(ctx, r.logger, err)
}

func executed(resp *backend.RunServiceResponse) Outcome {
	if resp == nil {
		return &Failure{Code: CodeUnexpected, Message: "Backend returned an empty run response."}
	}
	return &ServiceExecuted{
		Service:     resp.Service,
		PaymentMode: resp.PaymentMode,
		SponsoredBy: resp.SponsoredBy,
		TxHash:      resp.TxHash,
		Output:      resp.Output,
		Message:     resp.Message,
	}
}

// paymentOutcome decodes a payment_required error. Undecodable details are
// surfaced as the original error rather than guessed at.
func paymentOutcome(be *backend.Error) Outcome {
	req, ok := payment.Decode(be.Details)
	if !ok {
		return failureFrom(be)
	}
	out := &PaymentRequired{Requirement: req}
	if terms, err := req.Terms(); err == nil {
		out.Terms = &terms
	}
	return out
}

func failureFrom(be *backend.Error) *Failure {
	return &Failure{Code: be.Code, Message: be.Message, Details: be.Details}
}

func unexpected(ctx context.Context, logger logging.Logger, err error) *Failure {
	logging.FromContext(ctx, logger).Error("Unexpected error resolving service run: %v", err)
	return &Failure{
		Code:    CodeUnexpected,
		Message: "An unexpected error occurred while running the service.",
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
