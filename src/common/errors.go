package common

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrForbidden       = errors.New("order belongs to another user")
	ErrOrderNotPending = errors.New("order is no longer pending")
	ErrAmountMismatch  = errors.New("charged amount does not match order amount")
	ErrOrderConflict   = errors.New("payment received for a cancelled order")
	ErrPlanNotFound    = errors.New("plan not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrUserNotFound    = errors.New("user not found")
)

// ValidationError is a client input problem detected before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var ErrPaymentURLNotFound = errors.New("no reserved payment url for order")

var errAlertNotRecorded = errors.New("payment alert not recorded")
