package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRequestID generates a time-ordered request identifier.
func NewRequestID() string {
	body, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("req-%s", uuid.NewString())
	}
	return fmt.Sprintf("req-%s", body.String())
}
