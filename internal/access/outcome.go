// Package access decides how a caller gets to run a metered service:
// sponsored, after completing a sponsor task, or by paying directly.
package access

import (
	"fmt"

	"subsidypay/internal/payment"
)

// Mode discriminates the four outcomes of a service run resolution.
type Mode string

const (
	ModeServiceExecuted Mode = "service_executed"
	ModePaymentRequired Mode = "payment_required"
	ModeTaskRequired    Mode = "task_required"
	ModeFailure         Mode = "failure"
)

// Outcome is exactly one of *ServiceExecuted, *PaymentRequired,
// *TaskRequired or *Failure.
type Outcome interface {
	Mode() Mode
	outcome()
}

// ServiceExecuted means the service ran, either sponsored or paid directly.
type ServiceExecuted struct {
	Service     string `json:"service"`
	PaymentMode string `json:"payment_mode"`
	SponsoredBy string `json:"sponsored_by,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Output      string `json:"output"`
	Message     string `json:"message"`
}

// PaymentRequired means the caller must sign a payment before retrying.
// Terms is nil when the encoded terms could not be decoded.
type PaymentRequired struct {
	Requirement payment.Requirement `json:"requirement"`
	Terms       *payment.Terms      `json:"terms,omitempty"`
}

// TaskRequired means a sponsor will cover the run once the task is done.
type TaskRequired struct {
	Service            string   `json:"service"`
	CampaignID         string   `json:"campaign_id"`
	CampaignName       string   `json:"campaign_name"`
	Sponsor            string   `json:"sponsor"`
	RequiredTask       string   `json:"required_task"`
	TaskDescription    string   `json:"task_description"`
	Instructions       string   `json:"instructions,omitempty"`
	RequiredFields     []string `json:"required_fields"`
	AlreadyCompleted   bool     `json:"already_completed"`
	SubsidyAmountCents uint64   `json:"subsidy_amount_cents"`
	TaskOptions        []string `json:"task_options"`
}

// Failure is a terminal error outcome. Code is a backend error code or one
// of the resolver codes below.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Codes produced by the resolver itself.
const (
	CodeNoMatchingCampaign = "no_matching_campaign"
	CodeUserNotFound       = "user_not_found"
	CodeUnexpected         = "unexpected_error"
)

func (*ServiceExecuted) Mode() Mode { return ModeServiceExecuted }
func (*PaymentRequired) Mode() Mode { return ModePaymentRequired }
func (*TaskRequired) Mode() Mode    { return ModeTaskRequired }
func (*Failure) Mode() Mode         { return ModeFailure }

func (*ServiceExecuted) outcome() {}
func (*PaymentRequired) outcome() {}
func (*TaskRequired) outcome()    {}
func (*Failure) outcome()         {}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Summary is a one-line human readable description of o.
func Summary(o Outcome) string {
	switch v := o.(type) {
	case *ServiceExecuted:
		if v.Message != "" {
			return v.Message
		}
		if v.SponsoredBy != "" {
			return fmt.Sprintf("%s ran, sponsored by %s.", v.Service, v.SponsoredBy)
		}
		return fmt.Sprintf("%s ran (%s).", v.Service, v.PaymentMode)
	case *PaymentRequired:
		if v.Requirement.Message != "" {
			return v.Requirement.Message
		}
		return fmt.Sprintf("Payment of %d cents is required to run %s.", v.Requirement.AmountCents, v.Requirement.Service)
	case *TaskRequired:
		return fmt.Sprintf("Complete the task '%s' for campaign '%s' to unlock %s sponsored by %s.",
			v.RequiredTask, v.CampaignName, v.Service, v.Sponsor)
	case *Failure:
		return v.Message
	default:
		return ""
	}
}
