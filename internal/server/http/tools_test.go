package http

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsidypay/internal/access"
	"subsidypay/internal/auth"
	"subsidypay/internal/backend"
	"subsidypay/internal/payment"
	"subsidypay/internal/session"
)

const campaignID = "5b0a3f4e-8d0c-4f7e-9f55-3a1c2d4e6f70"

func TestRunServiceRequiresBearerWhenAuthEnabled(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })

	rec, result := env.call(t, "run_service", map[string]any{"service": "design", "input": "logo"}, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	challenge := `Bearer resource_metadata="https://gateway.example.com/.well-known/oauth-protected-resource"`
	assert.Equal(t, challenge, rec.Header().Get("WWW-Authenticate"))
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "Login is required to perform this action.", result.Content[0].Text)
	assert.Equal(t, []any{challenge}, result.Meta["mcp/www_authenticate"])
	assert.Empty(t, env.resolver.service)
}

func TestRunServiceRejectsInvalidBearer(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })

	rec, _ := env.call(t, "run_service", map[string]any{"service": "design", "input": "logo"},
		map[string]string{"Authorization": "Bearer forged"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, env.verifier.calls)
}

func TestRunServiceMintsSessionFromVerifiedEmail(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })
	env.backend.authResp = &backend.AuthResponse{SessionToken: "sess-minted", UserID: "u1"}
	env.resolver.outcome = &access.ServiceExecuted{
		Service:     "design",
		PaymentMode: backend.PaymentModeSponsored,
		SponsoredBy: "Acme",
		Output:      "logo.png",
		Message:     "Design ran, sponsored by Acme.",
	}

	rec, result := env.call(t, "run_service", map[string]any{"service": "design", "input": "logo"},
		map[string]string{"Authorization": "Bearer good-token"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, result.IsError)
	assert.Equal(t, "Design ran, sponsored by Acme.", result.Content[0].Text)
	assert.Equal(t, "service_executed", result.Meta["mode"])
	assert.Equal(t, "alice@example.com", env.backend.authReq.Email)
	assert.Equal(t, "auto", env.backend.authReq.Region)
	assert.Equal(t, "sess-minted", env.resolver.token)
	assert.Equal(t, "design", env.resolver.service)
	assert.Equal(t, "logo", env.resolver.input)

	structured, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "logo.png", structured["output"])
}

func TestRunServiceAcceptsAccessTokenQuery(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })
	env.resolver.outcome = &access.ServiceExecuted{Service: "design", PaymentMode: backend.PaymentModeSponsored}

	rec, _ := env.call(t, "run_service?access_token=good-token",
		map[string]any{"service": "design", "input": "logo", "session_token": "sess-input"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-input", env.resolver.token)
	assert.Zero(t, env.backend.authCalls)
}

func TestRunServiceSessionHeaderWinsOverInput(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.outcome = &access.ServiceExecuted{Service: "design", PaymentMode: backend.PaymentModeSponsored}

	rec, _ := env.call(t, "run_service",
		map[string]any{"service": "design", "input": "logo", "session_token": "sess-input"},
		map[string]string{session.Header: "sess-header"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-header", env.resolver.token)
}

func TestRunServiceWithoutSessionIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, result := env.call(t, "run_service", map[string]any{"service": "design", "input": "logo"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, result.IsError)
	assert.Empty(t, env.resolver.service)
}

func TestRunServiceRendersOutcomes(t *testing.T) {
	requirement := payment.Requirement{
		Service:            "design",
		AmountCents:        500,
		AcceptedHeader:     "X-PAYMENT",
		PaymentRequiredB64: "W10=",
		Message:            "Payment required.",
		NextStep:           "Sign the payment and retry.",
	}

	tests := []struct {
		name    string
		outcome access.Outcome
		isError bool
		mode    string
		code    any
		text    string
	}{
		{
			name: "task required",
			outcome: &access.TaskRequired{
				Service: "design", CampaignID: campaignID, CampaignName: "Spring", Sponsor: "Acme",
				RequiredTask: "survey", TaskOptions: []string{"survey"}, RequiredFields: []string{},
			},
			mode: "task_required",
			text: "Complete the task 'survey' for campaign 'Spring' to unlock design sponsored by Acme.",
		},
		{
			name:    "payment required",
			outcome: &access.PaymentRequired{Requirement: requirement},
			isError: true,
			mode:    "payment_required",
			code:    "payment_required",
			text:    "Payment required.",
		},
		{
			name:    "failure",
			outcome: &access.Failure{Code: access.CodeNoMatchingCampaign, Message: "No sponsor covers design."},
			isError: true,
			mode:    "failure",
			code:    "no_matching_campaign",
			text:    "No sponsor covers design.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.resolver.outcome = tt.outcome

			rec, result := env.call(t, "run_service",
				map[string]any{"service": "design", "input": "logo", "session_token": "sess"}, nil)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.isError, result.IsError)
			assert.Equal(t, tt.mode, result.Meta["mode"])
			assert.Equal(t, tt.code, result.Meta["code"])
			assert.Equal(t, tt.text, result.Content[0].Text)
		})
	}
}

func TestRunServiceValidatesInput(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, result := env.call(t, "run_service", map[string]any{"service": "design"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", result.Meta["code"])
	assert.Empty(t, env.resolver.service)
}

func TestRunServiceAcceptsEmptyInput(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.outcome = &access.ServiceExecuted{Service: "design", PaymentMode: backend.PaymentModeSponsored}

	rec, result := env.call(t, "run_service", map[string]any{"service": "design", "input": "", "session_token": "sess"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, result.IsError)
	assert.Equal(t, "design", env.resolver.service)
	assert.Empty(t, env.resolver.input)
}

func TestScopeEnforcement(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) {
		d.AuthEnabled = true
		d.EnforceScopes = true
	})
	env.backend.authResp = &backend.AuthResponse{SessionToken: "sess-minted", UserID: "u1"}
	env.resolver.outcome = &access.ServiceExecuted{Service: "design", PaymentMode: backend.PaymentModeSponsored}
	bearer := map[string]string{"Authorization": "Bearer good-token"}

	rec, result := env.call(t, "get_user_status", nil, bearer)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, result.IsError)
	assert.Equal(t, "insufficient_scope", result.Meta["code"])
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope", scope="user.read"`)

	rec, _ = env.call(t, "run_service", map[string]any{"service": "design", "input": "logo"}, bearer)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "design", env.resolver.service)
}

func TestScopesNotEnforcedByDefault(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })
	env.backend.authResp = &backend.AuthResponse{SessionToken: "sess-minted", UserID: "u1"}
	env.backend.status = &backend.UserStatus{UserID: "u1"}

	rec, _ := env.call(t, "get_user_status", nil, map[string]string{"Authorization": "Bearer good-token"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchServicesIsAnonymous(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })
	budget := uint64(1000)
	env.backend.searchResp = &backend.SearchResponse{
		Services: []backend.ServiceItem{
			{ServiceType: "campaign", ServiceID: "c1", Name: "Spring design", Sponsor: "Acme"},
			{ServiceType: "campaign", ServiceID: "c2", Name: "Summer design", Sponsor: "Beta"},
			{ServiceType: "service", ServiceID: "s1", Name: "design"},
		},
		CandidateServices: []backend.CandidateService{{ServiceKey: "design"}},
	}

	rec, result := env.call(t, "search_services", map[string]any{"q": "design", "max_budget_cents": budget}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.verifier.calls)
	assert.Equal(t, "Found 2 campaign-backed sponsored service(s) across 1 service(s) and 2 sponsor(s).", result.Content[0].Text)
	assert.Equal(t, "design", env.backend.searchReq.Query)
	require.NotNil(t, env.backend.searchReq.MaxBudgetCents)
	assert.Equal(t, budget, *env.backend.searchReq.MaxBudgetCents)

	structured := result.StructuredContent.(map[string]any)
	assert.EqualValues(t, 2, structured["total_count"])
}

func TestSearchServicesEmptyBodyAndNoCampaigns(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.searchResp = &backend.SearchResponse{}

	rec, result := env.call(t, "search_services", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No campaign-backed sponsored services found. Please create or activate a sponsor campaign first.", result.Content[0].Text)
}

func TestSearchServicesBackendError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.searchErr = &backend.Error{Code: backend.CodeUnavailable, Message: "Backend is unreachable"}

	rec, result := env.call(t, "search_services", map[string]any{}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, result.IsError)
	assert.Equal(t, "backend_unavailable", result.Meta["code"])
	assert.Equal(t, "Backend is unreachable", result.Content[0].Text)
}

func TestSearchServicesUnexpectedError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.searchErr = errors.New("decode search response: boom")

	_, result := env.call(t, "search_services", map[string]any{}, nil)

	assert.True(t, result.IsError)
	assert.Equal(t, "unexpected_error", result.Meta["code"])
	assert.Equal(t, "An unexpected error occurred while searching services.", result.Content[0].Text)
}

func TestAuthenticateUser(t *testing.T) {
	t.Run("auth disabled uses input email", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.backend.authResp = &backend.AuthResponse{
			SessionToken: "sess-1", UserID: "u1", Email: "bob@example.com", IsNewUser: true, Message: "Welcome!",
		}

		rec, result := env.call(t, "authenticate_user", map[string]any{"email": "bob@example.com"}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Welcome!", result.Content[0].Text)
		assert.Equal(t, "sess-1", result.Meta["session_token"])
		assert.Equal(t, "auto", env.backend.authReq.Region)
		structured := result.StructuredContent.(map[string]any)
		assert.Equal(t, true, structured["is_new_user"])
	})

	t.Run("auth disabled without email", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec, result := env.call(t, "authenticate_user", map[string]any{}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, result.IsError)
		assert.Equal(t, "Auth is disabled. Please provide the email field.", result.Content[0].Text)
		assert.Zero(t, env.backend.authCalls)
	})

	t.Run("verified email wins", func(t *testing.T) {
		env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })
		env.backend.authResp = &backend.AuthResponse{SessionToken: "sess-2", Message: "Welcome back."}

		_, result := env.call(t, "authenticate_user",
			map[string]any{"email": "mallory@example.com", "region": "jp"},
			map[string]string{"Authorization": "Bearer good-token"})

		assert.False(t, result.IsError)
		assert.Equal(t, "alice@example.com", env.backend.authReq.Email)
		assert.Equal(t, "jp", env.backend.authReq.Region)
	})

	t.Run("malformed email", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec, _ := env.call(t, "authenticate_user", map[string]any{"email": "not-an-email"}, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetServiceTasks(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.searchResp = &backend.SearchResponse{
		CandidateServices: []backend.CandidateService{{
			ServiceKey:  "design",
			DisplayName: "Design Studio",
			Offers: []backend.CampaignOffer{
				{CampaignID: "c1", CampaignName: "Spring", Sponsor: "Acme", RequiredTask: "survey", SubsidyAmountCents: 250},
				{CampaignID: "c2", CampaignName: "Summer", Sponsor: "Beta", RequiredTask: "signup", SubsidyAmountCents: 1005},
			},
		}},
	}

	rec, result := env.call(t, "get_service_tasks", map[string]any{"service_key": "design"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Found 2 subsidized task(s) for Design Studio from 2 sponsor(s). Total available subsidy: $12.55.", result.Content[0].Text)
	assert.Empty(t, env.backend.searchReq.SessionToken)
}

func TestGetServiceTasksNoMatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.searchResp = &backend.SearchResponse{}

	_, result := env.call(t, "get_service_tasks", map[string]any{"service_key": "design"}, nil)

	assert.False(t, result.IsError)
	assert.Equal(t, `No subsidized tasks found for service "design".`, result.Content[0].Text)
	structured := result.StructuredContent.(map[string]any)
	assert.EqualValues(t, 0, structured["task_count"])
	assert.Equal(t, []any{}, structured["tasks"])
}

func TestGetTaskDetails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.taskResp = &backend.TaskResponse{
		CampaignID:      campaignID,
		CampaignName:    "Spring",
		RequiredTask:    "survey",
		TaskInputFormat: backend.TaskInputFormat{TaskType: "survey", RequiredFields: []string{"email", "survey"}},
		Message:         "Complete the survey.",
	}

	rec, result := env.call(t, "get_task_details",
		map[string]any{"campaign_id": campaignID}, map[string]string{session.Header: "sess-h"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Complete the survey.", result.Content[0].Text)
	assert.Equal(t, []string{"sess-h"}, env.backend.tokens)
	structured := result.StructuredContent.(map[string]any)
	assert.Equal(t, []any{"survey", "email"}, structured["task_options"])
}

func TestGetTaskDetailsRejectsNonUUID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, result := env.call(t, "get_task_details",
		map[string]any{"campaign_id": "spring", "session_token": "sess"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", result.Meta["code"])
}

func TestCompleteTaskRequiresConsent(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.call(t, "complete_task",
		map[string]any{"campaign_id": campaignID, "task_name": "survey", "session_token": "sess"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteTask(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.completed = &backend.CompleteTaskResponse{
		TaskCompletionID: "tc-1", CampaignID: campaignID, ConsentRecorded: true, CanUseService: true, Message: "Recorded.",
	}

	rec, result := env.call(t, "complete_task", map[string]any{
		"campaign_id":   campaignID,
		"task_name":     "survey",
		"details":       map[string]string{"email": "alice@example.com"},
		"session_token": "sess",
		"consent": map[string]bool{
			"data_sharing_agreed":  true,
			"purpose_acknowledged": true,
			"contact_permission":   false,
		},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Recorded.", result.Content[0].Text)
	assert.Equal(t, "sess", env.backend.completeReq.SessionToken)
	assert.True(t, env.backend.completeReq.Consent.DataSharingAgreed)
	assert.Equal(t, "alice@example.com", env.backend.completeReq.Details["email"])
}

func TestUserStatusAndPreferences(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.status = &backend.UserStatus{UserID: "u1", Message: "2 tasks completed."}
	env.backend.prefs = &backend.Preferences{UserID: "u1", Message: "1 preference."}

	_, status := env.call(t, "get_user_status", map[string]any{"session_token": "sess"}, nil)
	_, prefs := env.call(t, "get_preferences", map[string]any{"session_token": "sess"}, nil)

	assert.Equal(t, "2 tasks completed.", status.Content[0].Text)
	assert.Equal(t, "1 preference.", prefs.Content[0].Text)
	assert.Equal(t, []string{"sess", "sess"}, env.backend.tokens)
}

func TestSetPreferences(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.setResp = &backend.SetPreferencesResponse{UserID: "u1", PreferencesCount: 1, Message: "Saved."}

	rec, result := env.call(t, "set_preferences", map[string]any{
		"session_token": "sess",
		"preferences":   []map[string]string{{"task_type": "survey", "level": "preferred"}},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Saved.", result.Content[0].Text)
	assert.Equal(t, []backend.TaskPreference{{TaskType: "survey", Level: "preferred"}}, env.backend.setReq.Preferences)
}

func TestSetPreferencesRejectsUnknownLevel(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, result := env.call(t, "set_preferences", map[string]any{
		"session_token": "sess",
		"preferences":   []map[string]string{{"task_type": "survey", "level": "love"}},
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, result.Content[0].Text, "level must be")
}

func TestSessionMintFailureIsBackendError(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) { d.AuthEnabled = true })
	env.backend.authErr = &backend.Error{Code: backend.CodeTimeout, Message: "Backend timed out"}

	rec, result := env.call(t, "get_user_status", map[string]any{},
		map[string]string{"Authorization": "Bearer good-token"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backend_timeout", result.Meta["code"])
}

func TestRateLimitPerSubject(t *testing.T) {
	env := newTestEnv(t, func(d *RouterDeps) {
		d.RateLimit = RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})
	env.backend.status = &backend.UserStatus{Message: "ok"}

	rec, _ := env.call(t, "get_user_status", map[string]any{"session_token": "sess"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.call(t, "get_user_status", map[string]any{"session_token": "sess"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimiterEvictsIdleEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := newRateLimiter(RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		EntryTTL:          time.Minute,
		CleanupInterval:   time.Minute,
		Now:               func() time.Time { return now },
	})

	assert.True(t, limiter.allow("user:a"))
	assert.False(t, limiter.allow("user:a"))
	assert.True(t, limiter.allow("user:b"))
	assert.Equal(t, 2, limiter.size())

	now = now.Add(3 * time.Minute)
	assert.True(t, limiter.allow("user:c"))
	assert.Equal(t, 1, limiter.size())
}

func TestUnauthorizedResultShape(t *testing.T) {
	result := unauthorizedResult(testPublicURL)
	assert.True(t, result.IsError)
	assert.Equal(t, []string{auth.WWWAuthenticate(testPublicURL)}, result.Meta["mcp/www_authenticate"])
}
