package backend

// SearchParams filters the service catalog.
type SearchParams struct {
	Query          string
	Category       string
	MaxBudgetCents *uint64
	Intent         string
	SessionToken   string
}

// ServiceItem is one catalog entry. Campaign entries carry sponsor and task
// information; plain services leave those empty.
type ServiceItem struct {
	ServiceType        string   `json:"service_type"`
	ServiceID          string   `json:"service_id"`
	Name               string   `json:"name"`
	Sponsor            string   `json:"sponsor"`
	RequiredTask       string   `json:"required_task,omitempty"`
	SubsidyAmountCents uint64   `json:"subsidy_amount_cents"`
	Category           []string `json:"category"`
	Active             bool     `json:"active"`
	Tags               []string `json:"tags"`
	RelevanceScore     *float64 `json:"relevance_score,omitempty"`
}

// CampaignOffer is a sponsor offer attached to a candidate service.
type CampaignOffer struct {
	CampaignID         string `json:"campaign_id"`
	CampaignName       string `json:"campaign_name"`
	Sponsor            string `json:"sponsor"`
	RequiredTask       string `json:"required_task"`
	SubsidyAmountCents uint64 `json:"subsidy_amount_cents"`
}

// CandidateService groups the offers sponsoring one service key.
type CandidateService struct {
	ServiceKey  string          `json:"service_key"`
	DisplayName string          `json:"display_name"`
	Offers      []CampaignOffer `json:"offers"`
}

// SearchResponse is returned by GET /services.
type SearchResponse struct {
	Services            []ServiceItem      `json:"services"`
	TotalCount          int                `json:"total_count"`
	Message             string             `json:"message"`
	AppliedFilters      map[string]any     `json:"applied_filters,omitempty"`
	AvailableCategories []string           `json:"available_categories,omitempty"`
	CandidateServices   []CandidateService `json:"candidate_services,omitempty"`
}

// AuthRequest registers or logs in a user by email.
type AuthRequest struct {
	Email     string   `json:"email"`
	Region    string   `json:"region"`
	Roles     []string `json:"roles"`
	ToolsUsed []string `json:"tools_used"`
}

// AuthResponse carries the backend session for a user.
type AuthResponse struct {
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	IsNewUser    bool   `json:"is_new_user"`
	Message      string `json:"message"`
}

// TaskInputFormat describes what a task completion must provide.
type TaskInputFormat struct {
	TaskType       string   `json:"task_type"`
	RequiredFields []string `json:"required_fields"`
	Instructions   string   `json:"instructions"`
}

// TaskResponse is returned by GET /tasks/{campaign_id}.
type TaskResponse struct {
	CampaignID         string          `json:"campaign_id"`
	CampaignName       string          `json:"campaign_name"`
	Sponsor            string          `json:"sponsor"`
	RequiredTask       string          `json:"required_task"`
	TaskDescription    string          `json:"task_description"`
	TaskInputFormat    TaskInputFormat `json:"task_input_format"`
	AlreadyCompleted   bool            `json:"already_completed"`
	SubsidyAmountCents uint64          `json:"subsidy_amount_cents"`
	Message            string          `json:"message"`
}

// Consent records the user's agreement attached to a task completion.
type Consent struct {
	DataSharingAgreed   bool `json:"data_sharing_agreed"`
	PurposeAcknowledged bool `json:"purpose_acknowledged"`
	ContactPermission   bool `json:"contact_permission"`
}

// CompleteTaskRequest is the body of POST /tasks/{campaign_id}/complete.
type CompleteTaskRequest struct {
	SessionToken string            `json:"session_token"`
	TaskName     string            `json:"task_name"`
	Details      map[string]string `json:"details,omitempty"`
	Consent      Consent           `json:"consent"`
}

// CompleteTaskResponse acknowledges a task completion.
type CompleteTaskResponse struct {
	TaskCompletionID string `json:"task_completion_id"`
	CampaignID       string `json:"campaign_id"`
	ConsentRecorded  bool   `json:"consent_recorded"`
	CanUseService    bool   `json:"can_use_service"`
	Message          string `json:"message"`
}

// RunServiceRequest is the body of POST /services/{service}/run.
type RunServiceRequest struct {
	SessionToken string `json:"session_token"`
	Input        string `json:"input"`
}

// ProxyRunRequest is the body of POST /proxy/{service}/run.
type ProxyRunRequest struct {
	UserID string `json:"user_id"`
	Input  string `json:"input"`
}

// Payment modes reported by a successful run.
const (
	PaymentModeSponsored  = "sponsored"
	PaymentModeUserDirect = "user_direct"
)

// RunServiceResponse is returned by both run endpoints on success.
type RunServiceResponse struct {
	Service     string `json:"service"`
	Output      string `json:"output"`
	PaymentMode string `json:"payment_mode"`
	SponsoredBy string `json:"sponsored_by,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Message     string `json:"message"`
}

// CompletedTask is one entry of a user's task history.
type CompletedTask struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	TaskName     string `json:"task_name"`
	CompletedAt  string `json:"completed_at"`
}

// AvailableService reports whether a sponsored service is unlocked.
type AvailableService struct {
	Service string `json:"service"`
	Sponsor string `json:"sponsor"`
	Ready   bool   `json:"ready"`
}

// UserStatus is returned by GET /user/status.
type UserStatus struct {
	UserID            string             `json:"user_id"`
	Email             string             `json:"email"`
	CompletedTasks    []CompletedTask    `json:"completed_tasks"`
	AvailableServices []AvailableService `json:"available_services"`
	Message           string             `json:"message"`
}

// Preference levels.
const (
	PreferencePreferred = "preferred"
	PreferenceNeutral   = "neutral"
	PreferenceAvoided   = "avoided"
)

// TaskPreference expresses how a user feels about a task type.
type TaskPreference struct {
	TaskType string `json:"task_type"`
	Level    string `json:"level"`
}

// ValidPreferenceLevel reports whether level is one the backend accepts.
func ValidPreferenceLevel(level string) bool {
	switch level {
	case PreferencePreferred, PreferenceNeutral, PreferenceAvoided:
		return true
	default:
		return false
	}
}

// Preferences is returned by GET /preferences.
type Preferences struct {
	UserID      string           `json:"user_id"`
	Preferences []TaskPreference `json:"preferences"`
	UpdatedAt   string           `json:"updated_at,omitempty"`
	Message     string           `json:"message"`
}

// SetPreferencesRequest is the body of POST /preferences.
type SetPreferencesRequest struct {
	SessionToken string           `json:"session_token"`
	Preferences  []TaskPreference `json:"preferences"`
}

// SetPreferencesResponse acknowledges a preference update.
type SetPreferencesResponse struct {
	UserID           string `json:"user_id"`
	PreferencesCount int    `json:"preferences_count"`
	UpdatedAt        string `json:"updated_at"`
	Message          string `json:"message"`
}
