package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// Business outcomes. These are expected results, surfaced to callers as
	// values and never logged as errors.
	ErrInsufficientCredits  = new(ErrCodeInsufficientCredits, "insufficient credits")
	ErrInvalidAmount        = new(ErrCodeInvalidAmount, "amount must be positive")
	ErrInvalidOperationCode = new(ErrCodeInvalidOperationCode, "invalid operation code")

	// Transport and consistency failures from the reliability taxonomy.
	ErrBrokerUnavailable     = new(ErrCodeBrokerUnavailable, "broker unavailable")
	ErrPublishConfirmTimeout = new(ErrCodePublishConfirmTimeout, "publish confirm timed out")
	ErrUnroutableMessage     = new(ErrCodeUnroutableMessage, "message could not be routed")
	ErrConsumerProcessing    = new(ErrCodeConsumerProcessing, "consumer processing failure")
	ErrRetryExhausted        = new(ErrCodeRetryExhausted, "retry attempts exhausted")
	ErrAuthConfiguration     = new(ErrCodeAuthConfiguration, "auth configuration error")
	ErrContractDrift         = new(ErrCodeContractDrift, "event contract drift")
	ErrReconciliationDrift   = new(ErrCodeReconciliationDrift, "balance reconciliation drift")
)

const (
	ErrCodeSystemError          = "system_error"
	ErrCodeNotFound             = "not_found"
	ErrCodeAlreadyExists        = "already_exists"
	ErrCodeValidation           = "validation_error"
	ErrCodeInvalidOperation     = "invalid_operation"
	ErrCodeDatabase             = "database_error"
	ErrCodeInsufficientCredits  = "insufficient_credits"
	ErrCodeInvalidAmount        = "invalid_amount"
	ErrCodeInvalidOperationCode = "invalid_operation_code"

	ErrCodeBrokerUnavailable     = "broker_unavailable"
	ErrCodePublishConfirmTimeout = "publish_confirm_timeout"
	ErrCodeUnroutableMessage     = "unroutable_message"
	ErrCodeConsumerProcessing    = "consumer_processing_failure"
	ErrCodeRetryExhausted        = "retry_exhausted"
	ErrCodeAuthConfiguration     = "auth_configuration_error"
	ErrCodeContractDrift         = "contract_drift"
	ErrCodeReconciliationDrift   = "reconciliation_drift"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// new creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInsufficientCredits checks if an error is an insufficient credits outcome
func IsInsufficientCredits(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

// IsInvalidAmount checks if an error is an invalid amount outcome
func IsInvalidAmount(err error) bool {
	return errors.Is(err, ErrInvalidAmount)
}

// IsBrokerUnavailable checks if an error is a broker availability failure
func IsBrokerUnavailable(err error) bool {
	return errors.Is(err, ErrBrokerUnavailable)
}

// ErrCodeOf returns the machine-readable code of an error, or system_error
// when the error carries no code.
func ErrCodeOf(err error) string {
	var internal *InternalError
	if errors.As(err, &internal) {
		return internal.Code
	}
	return ErrCodeSystemError
}
