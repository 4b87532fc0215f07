package access

import "strings"

// Precondition is the reason a sponsored run was refused.
type Precondition int

const (
	PreconditionUnknown Precondition = iota
	// PreconditionTaskRequired means a sponsor task is outstanding.
	PreconditionTaskRequired
	// PreconditionNoSponsor means no campaign sponsors the service.
	PreconditionNoSponsor
)

func (p Precondition) String() string {
	switch p {
	case PreconditionTaskRequired:
		return "task_required"
	case PreconditionNoSponsor:
		return "no_sponsor"
	default:
		return "unknown"
	}
}

// The backend does not yet emit sub-codes for precondition_required, so
// the branch is chosen from its message text. Keep these in sync with the
// backend's wording.
var (
	taskRequiredPhrases = []string{
		"required task",
		"complete the task",
		"complete a task",
		"task required",
	}
	noSponsorPhrases = []string{
		"no sponsored campaign",
		"no sponsor",
		"no matching campaign",
		"pay directly",
	}
)

// ClassifyPrecondition maps a precondition_required message to its reason.
// Task phrases win when both match.
func ClassifyPrecondition(message string) Precondition {
	lower := strings.ToLower(message)
	if containsAny(lower, taskRequiredPhrases) {
		return PreconditionTaskRequired
	}
	if containsAny(lower, noSponsorPhrases) {
		return PreconditionNoSponsor
	}
	return PreconditionUnknown
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
