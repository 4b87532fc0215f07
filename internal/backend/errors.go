package backend

import (
	"errors"
	"fmt"
)

// Error codes produced by the client. Structured backend errors may carry
// any other code verbatim.
const (
	CodeUnavailable          = "backend_unavailable"
	CodeTimeout              = "backend_timeout"
	CodeBackendError         = "backend_error"
	CodePaymentRequired      = "payment_required"
	CodePreconditionRequired = "precondition_required"
)

// Error is the normalized failure of a backend call.
type Error struct {
	Code    string
	Message string
	Details any
	// Status is the HTTP status, zero when no response was received.
	Status int
	cause  error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}
