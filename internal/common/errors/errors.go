// Package errors provides the error taxonomy shared by the TCP, HTTP and
// workflow surfaces of the TaskForge daemon.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes as constants. The TCP dispatcher exposes these verbatim in the
// error.name response field so clients can branch without parsing messages.
const (
	ErrCodeNotFound          = "NotFound"
	ErrCodeValidation        = "Validation"
	ErrCodeCycleWouldForm    = "CycleWouldForm"
	ErrCodeDependencyMissing = "DependencyMissing"
	ErrCodeSelfDependency    = "SelfDependency"
	ErrCodeLockHeld          = "LockHeld"
	ErrCodeDatabaseNotOpen   = "DatabaseNotOpen"
	ErrCodeSessionTimeout    = "SessionTimeout"
	ErrCodeNoTransition      = "NoTransition"
	ErrCodeTransport         = "Transport"
	ErrCodeUnknown           = "Unknown"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	// Fields carries per-field validation messages when Code is Validation.
	Fields []string `json:"fields,omitempty"`
	Err    error    `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Validation creates a validation error carrying per-field messages.
func Validation(fields ...string) *AppError {
	return &AppError{
		Code:       ErrCodeValidation,
		Message:    "validation failed: " + strings.Join(fields, "; "),
		HTTPStatus: http.StatusBadRequest,
		Fields:     fields,
	}
}

// CycleWouldForm creates an error for a dependency write that would close a cycle.
func CycleWouldForm(path []string) *AppError {
	return &AppError{
		Code:       ErrCodeCycleWouldForm,
		Message:    "dependency change would create a cycle: " + strings.Join(path, " -> "),
		HTTPStatus: http.StatusConflict,
	}
}

// DependencyMissing creates an error for a dependency on a non-existent task.
func DependencyMissing(depID string) *AppError {
	return &AppError{
		Code:       ErrCodeDependencyMissing,
		Message:    fmt.Sprintf("dependency '%s' does not exist", depID),
		HTTPStatus: http.StatusBadRequest,
	}
}

// SelfDependency creates an error for a task depending on itself.
func SelfDependency(id string) *AppError {
	return &AppError{
		Code:       ErrCodeSelfDependency,
		Message:    fmt.Sprintf("task '%s' cannot depend on itself", id),
		HTTPStatus: http.StatusBadRequest,
	}
}

// LockHeld creates an error for a store directory owned by another process.
func LockHeld(path string) *AppError {
	return &AppError{
		Code:       ErrCodeLockHeld,
		Message:    fmt.Sprintf("store directory '%s' is locked by another daemon", path),
		HTTPStatus: http.StatusConflict,
	}
}

// DatabaseNotOpen creates a fatal error for operations against a closed store.
func DatabaseNotOpen() *AppError {
	return &AppError{
		Code:       ErrCodeDatabaseNotOpen,
		Message:    "store is not open",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// SessionTimeout creates an error for an agent turn exceeding its deadline.
func SessionTimeout(profile string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionTimeout,
		Message:    fmt.Sprintf("agent session for profile '%s' timed out", profile),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// NoTransition creates an error for a workflow state whose decider selected
// no registered transition.
func NoTransition(state, transition string) *AppError {
	msg := fmt.Sprintf("workflow state '%s' has no transition to take", state)
	if transition != "" {
		msg = fmt.Sprintf("workflow state '%s' has no transition '%s'", state, transition)
	}
	return &AppError{
		Code:       ErrCodeNoTransition,
		Message:    msg,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Transport creates an error for connection-scoped protocol failures.
func Transport(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeTransport,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}

// Unknown wraps an arbitrary failure.
func Unknown(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeUnknown,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
// If the error is already an AppError its code and status are preserved.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Fields:     appErr.Fields,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeUnknown,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// CodeOf returns the taxonomy code for an error, Unknown when unclassified.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsCycle checks if the error is a cycle rejection.
func IsCycle(err error) bool {
	return CodeOf(err) == ErrCodeCycleWouldForm
}

// IsLockHeld checks if the error is a lock-held error.
func IsLockHeld(err error) bool {
	return CodeOf(err) == ErrCodeLockHeld
}

// IsFatal reports whether the error must terminate the daemon. Only the two
// database-unavailable codes are fatal; everything else is retried or
// surfaced to the caller.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeLockHeld, ErrCodeDatabaseNotOpen:
		return true
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
