package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"subsidypay/internal/access"
	"subsidypay/internal/backend"
	"subsidypay/internal/logging"
	"subsidypay/internal/session"
)

type toolFunc func(h *toolHandler, c *gin.Context) ToolResult

type toolSpec struct {
	Name        string
	Title       string
	Description string
	// Scopes are advertised when auth is enabled; a tool with scopes
	// requires a verified bearer token.
	Scopes []string
	run    toolFunc
}

var toolSpecs = []toolSpec{
	{
		Name:        "search_services",
		Title:       "Search Services",
		Description: "Search available sponsored services.",
		run:         (*toolHandler).searchServices,
	},
	{
		Name:        "authenticate_user",
		Title:       "Authenticate User",
		Description: "Authenticate and register a user using OAuth token details.",
		Scopes:      []string{"user.write"},
		run:         (*toolHandler).authenticateUser,
	},
	{
		Name:        "get_service_tasks",
		Title:       "Get Service Tasks",
		Description: "List the sponsor tasks that subsidize a service.",
		Scopes:      []string{"tasks.read"},
		run:         (*toolHandler).getServiceTasks,
	},
	{
		Name:        "get_task_details",
		Title:       "Get Task Details",
		Description: "Show what a sponsor campaign asks the user to do.",
		Scopes:      []string{"tasks.read"},
		run:         (*toolHandler).getTaskDetails,
	},
	{
		Name:        "complete_task",
		Title:       "Complete Task",
		Description: "Record a completed sponsor task together with the user's consent.",
		Scopes:      []string{"tasks.write"},
		run:         (*toolHandler).completeTask,
	},
	{
		Name:        "run_service",
		Title:       "Run Service",
		Description: "Run a service, sponsored when possible and paid directly otherwise.",
		Scopes:      []string{"services.execute"},
		run:         (*toolHandler).runService,
	},
	{
		Name:        "get_user_status",
		Title:       "Get User Status",
		Description: "Show completed tasks and unlocked services.",
		Scopes:      []string{"user.read"},
		run:         (*toolHandler).getUserStatus,
	},
	{
		Name:        "get_preferences",
		Title:       "Get Preferences",
		Description: "Show the user's task preferences.",
		Scopes:      []string{"user.read"},
		run:         (*toolHandler).getPreferences,
	},
	{
		Name:        "set_preferences",
		Title:       "Set Preferences",
		Description: "Replace the user's task preferences.",
		Scopes:      []string{"user.write"},
		run:         (*toolHandler).setPreferences,
	},
}

func findTool(name string) (toolSpec, bool) {
	for _, spec := range toolSpecs {
		if spec.Name == name {
			return spec, true
		}
	}
	return toolSpec{}, false
}

func toolRequiresAuth(name string) bool {
	spec, ok := findTool(name)
	return ok && len(spec.Scopes) > 0
}

type toolHandler struct {
	backend     ToolBackend
	resolver    RunResolver
	sessions    SessionResolver
	authEnabled bool
	publicURL   string
	logger      logging.Logger
}

func newToolHandler(deps RouterDeps, logger logging.Logger) *toolHandler {
	return &toolHandler{
		backend:     deps.Backend,
		resolver:    deps.Resolver,
		sessions:    deps.Sessions,
		authEnabled: deps.AuthEnabled,
		publicURL:   deps.PublicURL,
		logger:      logger,
	}
}

type toolDescriptor struct {
	Name            string           `json:"name"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	SecuritySchemes []map[string]any `json:"securitySchemes"`
}

func (h *toolHandler) list(c *gin.Context) {
	tools := make([]toolDescriptor, 0, len(toolSpecs))
	for _, spec := range toolSpecs {
		scheme := map[string]any{"type": "noauth"}
		if h.authEnabled && len(spec.Scopes) > 0 {
			scheme = map[string]any{"type": "oauth2", "scopes": spec.Scopes}
		}
		tools = append(tools, toolDescriptor{
			Name:            spec.Name,
			Title:           spec.Title,
			Description:     spec.Description,
			SecuritySchemes: []map[string]any{scheme},
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

func (h *toolHandler) invoke(c *gin.Context) {
	name := c.Param("name")
	spec, ok := findTool(name)
	if !ok {
		c.JSON(http.StatusNotFound, errorText(fmt.Sprintf("Unknown tool %q.", name), map[string]any{"code": "unknown_tool"}))
		return
	}

	result := spec.run(h, c)
	logging.FromContext(c.Request.Context(), h.logger).Debug("Tool %s finished is_error=%t", name, result.IsError)

	switch {
	case isUnauthorized(result):
		c.Header("WWW-Authenticate", unauthorizedChallenge(result))
		c.JSON(http.StatusUnauthorized, result)
	case result.Meta["code"] == "invalid_input":
		c.JSON(http.StatusBadRequest, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}

func isUnauthorized(result ToolResult) bool {
	_, ok := result.Meta["mcp/www_authenticate"]
	return ok
}

func unauthorizedChallenge(result ToolResult) string {
	if values, ok := result.Meta["mcp/www_authenticate"].([]string); ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// bindInput decodes the JSON body into obj. An empty body is treated as an
// empty object so tools with only optional fields accept it.
func bindInput(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return binding.Validator.ValidateStruct(obj)
	}
	return err
}

// session resolves the caller's backend session. required controls whether a
// missing session ends the call with the unauthorized result.
func (h *toolHandler) session(c *gin.Context, input string, required bool) (string, *ToolResult) {
	rc := session.FromRequest(c.Request, input)
	info, _ := CurrentAuthInfo(c)

	var token string
	var err error
	if h.sessions != nil {
		token, err = h.sessions.Resolve(c.Request.Context(), rc, info)
	} else if rc.SessionToken != "" {
		token = rc.SessionToken
	} else {
		err = session.ErrSessionRequired
	}

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, session.ErrSessionRequired):
		if !required {
			return "", nil
		}
		result := unauthorizedResult(h.publicURL)
		return "", &result
	default:
		result := errorResult(err, "An unexpected error occurred while resolving the session.")
		return "", &result
	}
}

type searchServicesInput struct {
	Query          string  `json:"q"`
	Category       string  `json:"category"`
	MaxBudgetCents *uint64 `json:"max_budget_cents"`
	Intent         string  `json:"intent"`
	SessionToken   string  `json:"session_token"`
}

func (h *toolHandler) searchServices(c *gin.Context) ToolResult {
	var in searchServicesInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	rc := session.FromRequest(c.Request, in.SessionToken)
	resp, err := h.backend.SearchServices(c.Request.Context(), backend.SearchParams{
		Query:          in.Query,
		Category:       in.Category,
		MaxBudgetCents: in.MaxBudgetCents,
		Intent:         in.Intent,
		SessionToken:   rc.SessionToken,
	})
	if err != nil {
		return errorResult(err, "An unexpected error occurred while searching services.")
	}

	campaigns := make([]backend.ServiceItem, 0, len(resp.Services))
	sponsors := make(map[string]struct{})
	for _, item := range resp.Services {
		if item.ServiceType != "campaign" {
			continue
		}
		campaigns = append(campaigns, item)
		if item.Sponsor != "" {
			sponsors[item.Sponsor] = struct{}{}
		}
	}
	candidates := resp.CandidateServices
	if candidates == nil {
		candidates = []backend.CandidateService{}
	}

	message := "No campaign-backed sponsored services found. Please create or activate a sponsor campaign first."
	if len(campaigns) > 0 {
		message = fmt.Sprintf("Found %d campaign-backed sponsored service(s) across %d service(s) and %d sponsor(s).",
			len(campaigns), len(candidates), len(sponsors))
	}

	return textResult(message, gin.H{
		"services":             campaigns,
		"total_count":          len(campaigns),
		"candidate_services":   candidates,
		"applied_filters":      resp.AppliedFilters,
		"available_categories": resp.AvailableCategories,
	}, map[string]any{"full_response": resp})
}

type authenticateUserInput struct {
	Email     string   `json:"email" binding:"omitempty,email"`
	Region    string   `json:"region"`
	Roles     []string `json:"roles"`
	ToolsUsed []string `json:"tools_used"`
}

func (h *toolHandler) authenticateUser(c *gin.Context) ToolResult {
	var in authenticateUserInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	email := strings.TrimSpace(in.Email)
	if info, ok := CurrentAuthInfo(c); ok && info.Email != "" {
		email = info.Email
	}
	if email == "" {
		if h.authEnabled {
			return unauthorizedResult(h.publicURL)
		}
		return errorText("Auth is disabled. Please provide the email field.", nil)
	}

	region := strings.TrimSpace(in.Region)
	if region == "" {
		region = "auto"
	}
	resp, err := h.backend.AuthenticateUser(c.Request.Context(), backend.AuthRequest{
		Email:     email,
		Region:    region,
		Roles:     in.Roles,
		ToolsUsed: in.ToolsUsed,
	})
	if err != nil {
		return errorResult(err, "An unexpected error occurred during authentication.")
	}

	return textResult(resp.Message, gin.H{
		"user_id":     resp.UserID,
		"email":       resp.Email,
		"is_new_user": resp.IsNewUser,
	}, map[string]any{"session_token": resp.SessionToken})
}

type getServiceTasksInput struct {
	ServiceKey   string `json:"service_key" binding:"required"`
	SessionToken string `json:"session_token"`
}

func (h *toolHandler) getServiceTasks(c *gin.Context) ToolResult {
	var in getServiceTasksInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	token, failed := h.session(c, in.SessionToken, false)
	if failed != nil {
		return *failed
	}

	resp, err := h.backend.SearchServices(c.Request.Context(), backend.SearchParams{
		Query:        in.ServiceKey,
		SessionToken: token,
	})
	if err != nil {
		return errorResult(err, "An unexpected error occurred while fetching service tasks.")
	}

	tasks := access.MatchServiceTasks(in.ServiceKey, resp)
	if tasks.TaskCount == 0 {
		return textResult(fmt.Sprintf("No subsidized tasks found for service %q.", in.ServiceKey), tasks, nil)
	}

	message := fmt.Sprintf("Found %d subsidized task(s) for %s from %d sponsor(s). Total available subsidy: %s.",
		tasks.TaskCount, tasks.DisplayName, len(tasks.SponsorNames), formatCents(tasks.TotalSubsidyCents))
	return textResult(message, tasks, map[string]any{"full_response": resp})
}

func formatCents(cents uint64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

type getTaskDetailsInput struct {
	CampaignID   string `json:"campaign_id" binding:"required,uuid"`
	SessionToken string `json:"session_token"`
}

func (h *toolHandler) getTaskDetails(c *gin.Context) ToolResult {
	var in getTaskDetailsInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	token, failed := h.session(c, in.SessionToken, true)
	if failed != nil {
		return *failed
	}

	resp, err := h.backend.GetTaskDetails(c.Request.Context(), in.CampaignID, token)
	if err != nil {
		return errorResult(err, "An unexpected error occurred while fetching task details.")
	}

	return textResult(resp.Message, gin.H{
		"campaign_id":          resp.CampaignID,
		"campaign_name":        resp.CampaignName,
		"sponsor":              resp.Sponsor,
		"required_task":        resp.RequiredTask,
		"task_description":     resp.TaskDescription,
		"task_input_format":    resp.TaskInputFormat,
		"already_completed":    resp.AlreadyCompleted,
		"subsidy_amount_cents": resp.SubsidyAmountCents,
		"task_options":         access.TaskOptions(resp.TaskInputFormat),
	}, map[string]any{"full_response": resp})
}

type completeTaskInput struct {
	CampaignID   string            `json:"campaign_id" binding:"required,uuid"`
	TaskName     string            `json:"task_name" binding:"required"`
	Details      map[string]string `json:"details"`
	SessionToken string            `json:"session_token"`
	Consent      *backend.Consent  `json:"consent" binding:"required"`
}

func (h *toolHandler) completeTask(c *gin.Context) ToolResult {
	var in completeTaskInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	token, failed := h.session(c, in.SessionToken, true)
	if failed != nil {
		return *failed
	}

	resp, err := h.backend.CompleteTask(c.Request.Context(), in.CampaignID, backend.CompleteTaskRequest{
		SessionToken: token,
		TaskName:     in.TaskName,
		Details:      in.Details,
		Consent:      *in.Consent,
	})
	if err != nil {
		return errorResult(err, "An unexpected error occurred while recording task completion.")
	}

	return textResult(resp.Message, gin.H{
		"task_completion_id": resp.TaskCompletionID,
		"campaign_id":        resp.CampaignID,
		"consent_recorded":   resp.ConsentRecorded,
		"can_use_service":    resp.CanUseService,
	}, map[string]any{"full_response": resp})
}

type runServiceInput struct {
	Service string `json:"service" binding:"required"`
	// Input may be empty but must be present.
	Input        *string `json:"input" binding:"required"`
	SessionToken string  `json:"session_token"`
}

func (h *toolHandler) runService(c *gin.Context) ToolResult {
	var in runServiceInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	token, failed := h.session(c, in.SessionToken, true)
	if failed != nil {
		return *failed
	}

	outcome := h.resolver.ResolveServiceRun(c.Request.Context(), in.Service, *in.Input, token)
	return outcomeResult(outcome)
}

// outcomeResult renders an access outcome. Payment requirements are error
// results so callers that only inspect _meta.code keep working.
func outcomeResult(outcome access.Outcome) ToolResult {
	text := access.Summary(outcome)
	meta := map[string]any{"mode": outcome.Mode()}

	switch o := outcome.(type) {
	case *access.ServiceExecuted, *access.TaskRequired:
		return textResult(text, o, meta)
	case *access.PaymentRequired:
		meta["code"] = backend.CodePaymentRequired
		meta["details"] = o.Requirement
		result := textResult(text, o, meta)
		result.IsError = true
		return result
	case *access.Failure:
		meta["code"] = o.Code
		if o.Details != nil {
			meta["details"] = o.Details
		}
		return errorText(o.Message, meta)
	default:
		return errorText("An unexpected error occurred while running the service.", map[string]any{"code": access.CodeUnexpected})
	}
}

type sessionOnlyInput struct {
	SessionToken string `json:"session_token"`
}

func (h *toolHandler) getUserStatus(c *gin.Context) ToolResult {
	var in sessionOnlyInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	token, failed := h.session(c, in.SessionToken, true)
	if failed != nil {
		return *failed
	}

	resp, err := h.backend.GetUserStatus(c.Request.Context(), token)
	if err != nil {
		return errorResult(err, "An unexpected error occurred while fetching user status.")
	}

	return textResult(resp.Message, gin.H{
		"user_id":            resp.UserID,
		"email":              resp.Email,
		"completed_tasks":    resp.CompletedTasks,
		"available_services": resp.AvailableServices,
	}, map[string]any{"full_response": resp})
}

func (h *toolHandler) getPreferences(c *gin.Context) ToolResult {
	var in sessionOnlyInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}

	token, failed := h.session(c, in.SessionToken, true)
	if failed != nil {
		return *failed
	}

	resp, err := h.backend.GetPreferences(c.Request.Context(), token)
	if err != nil {
		return errorResult(err, "An unexpected error occurred while fetching preferences.")
	}

	return textResult(resp.Message, gin.H{
		"user_id":     resp.UserID,
		"preferences": resp.Preferences,
		"updated_at":  resp.UpdatedAt,
	}, map[string]any{"full_response": resp})
}

type setPreferencesInput struct {
	SessionToken string                   `json:"session_token"`
	Preferences  []backend.TaskPreference `json:"preferences" binding:"required"`
}

func (h *toolHandler) setPreferences(c *gin.Context) ToolResult {
	var in setPreferencesInput
	if err := bindInput(c, &in); err != nil {
		return invalidInputResult(err)
	}
	for i, pref := range in.Preferences {
		if strings.TrimSpace(pref.TaskType) == "" {
			return invalidInputResult(fmt.Errorf("preferences[%d].task_type is required", i))
		}
		if !backend.ValidPreferenceLevel(pref.Level) {
			return invalidInputResult(fmt.Errorf("preferences[%d].level must be preferred, neutral or avoided", i))
		}
	}

	token, failed := h.session(c, in.SessionToken, true)
	if failed != nil {
		return *failed
	}

	resp, err := h.backend.SetPreferences(c.Request.Context(), backend.SetPreferencesRequest{
		SessionToken: token,
		Preferences:  in.Preferences,
	})
	if err != nil {
		return errorResult(err, "An unexpected error occurred while updating preferences.")
	}

	return textResult(resp.Message, gin.H{
		"user_id":           resp.UserID,
		"preferences_count": resp.PreferencesCount,
		"updated_at":        resp.UpdatedAt,
	}, map[string]any{"full_response": resp})
}
