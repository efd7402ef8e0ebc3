package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeAgent             = "AGENT_ERROR"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
)

// PipeError is the structured error type for all pipeline operations.
type PipeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PipeError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipeError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error class is worth another step attempt.
// Validation, conflict and transition errors never are; transient store and
// timeout failures are.
func (e *PipeError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict,
		ErrCodeInvalidTransition, ErrCodeRetryExhausted, ErrCodeAgent:
		return false
	default:
		return true
	}
}

// NewError creates a new PipeError.
func NewError(code, message string) *PipeError {
	return &PipeError{Code: code, Message: message}
}

// NewErrorf creates a new PipeError with a formatted message.
func NewErrorf(code, format string, args ...any) *PipeError {
	return &PipeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *PipeError) WithStep(step string) *PipeError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *PipeError) WithCause(err error) *PipeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PipeError) WithDetails(details map[string]any) *PipeError {
	e.Details = details
	return e
}
