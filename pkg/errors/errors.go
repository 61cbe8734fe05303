// Package errors provides a structured error system for lumaview with error codes, categories, and context.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCode represents a structured error code for lumaview operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Load Errors (surfaced to the navigation caller)
	ErrCodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	ErrCodeDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrCodePermissionDenied  ErrorCode = "PERMISSION_DENIED"

	// Resource Management Errors
	ErrCodeOutOfMemory     ErrorCode = "OUT_OF_MEMORY"
	ErrCodeLimitExceeded   ErrorCode = "LIMIT_EXCEEDED"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// State Management Errors
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"

	// Programming errors
	ErrCodeContractViolation ErrorCode = "CONTRACT_VIOLATION"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryLoad          ErrorCategory = "load"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryOperation     ErrorCategory = "operation"
	CategoryContract      ErrorCategory = "contract"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinel errors for contract violations. Compare with errors.Is.
var (
	ErrDoubleReturn  = NewError(ErrCodeContractViolation, "buffer returned twice")
	ErrDoubleRelease = NewError(ErrCodeContractViolation, "handle released more than once")
	ErrUnknownSlot   = NewError(ErrCodeContractViolation, "recency marker not present")
)

// LumaError represents a structured error with context and metadata.
type LumaError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *LumaError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *LumaError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a LumaError with the same code. Sentinels with a
// message only match errors carrying the same message.
func (e *LumaError) Is(target error) bool {
	t, ok := target.(*LumaError)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	if t.Code == ErrCodeContractViolation && t.Message != "" && e.Message != t.Message {
		return false
	}
	return true
}

// String returns a detailed string representation for logging.
func (e *LumaError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("LumaError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with default values for the code.
func NewError(code ErrorCode, message string) *LumaError {
	return &LumaError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Wrap creates a new error with the given code whose cause is err.
func Wrap(err error, code ErrorCode, message string) *LumaError {
	return NewError(code, message).WithCause(err)
}

// Canceled returns an OPERATION_CANCELED error wrapping cause (usually ctx.Err()).
func Canceled(cause error) *LumaError {
	if cause == nil {
		cause = context.Canceled
	}
	return Wrap(cause, ErrCodeOperationCanceled, "operation canceled")
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeFileNotFound, ErrCodeDecodeFailed, ErrCodeUnsupportedFormat, ErrCodePermissionDenied:
		return CategoryLoad
	case ErrCodeOutOfMemory, ErrCodeLimitExceeded, ErrCodeInvalidArgument:
		return CategoryResource
	case ErrCodeComponentStopped, ErrCodeAlreadyStarted:
		return CategoryState
	case ErrCodeOperationCanceled:
		return CategoryCancellation
	case ErrCodeOperationFailed:
		return CategoryOperation
	case ErrCodeContractViolation:
		return CategoryContract
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeOutOfMemory, ErrCodeOperationFailed, ErrCodeInternalError:
		return true
	}
	return false
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad,
		ErrCodeFileNotFound, ErrCodeDecodeFailed, ErrCodeUnsupportedFormat,
		ErrCodePermissionDenied, ErrCodeLimitExceeded:
		return true
	}
	return false
}

// CodeOf returns the code of the first LumaError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) ErrorCode {
	var le *LumaError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternalError
}

// IsCanceled reports whether err represents cancellation rather than failure.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var le *LumaError
	return stderrors.As(err, &le) && le.Code == ErrCodeOperationCanceled
}

// IsContractViolation reports whether err is a programming-error class failure.
func IsContractViolation(err error) bool {
	var le *LumaError
	return stderrors.As(err, &le) && le.Category == CategoryContract
}

var strict atomic.Bool

// SetStrict toggles panicking on contract violations.
func SetStrict(enabled bool) {
	strict.Store(enabled)
}

// Strict reports whether contract violations panic.
func Strict() bool {
	return strict.Load()
}

// Violation reports a contract violation. It panics in strict mode and
// otherwise returns the error annotated with a stack.
func Violation(sentinel *LumaError, component, operation string) error {
	err := &LumaError{
		Code:      sentinel.Code,
		Category:  sentinel.Category,
		Message:   sentinel.Message,
		Timestamp: time.Now(),
		Component: component,
		Operation: operation,
		Stack:     CaptureStack(1),
	}
	if strict.Load() {
		panic(err)
	}
	return err
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *LumaError) WithContext(key, value string) *LumaError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *LumaError) WithDetail(key string, value interface{}) *LumaError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *LumaError) WithComponent(component string) *LumaError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *LumaError) WithOperation(operation string) *LumaError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *LumaError) WithCause(cause error) *LumaError {
	e.Cause = cause
	return e
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *LumaError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred."
	}

	switch e.Code {
	case ErrCodeFileNotFound:
		return "Image file not found"
	case ErrCodeDecodeFailed:
		return "The image could not be decoded"
	case ErrCodeUnsupportedFormat:
		return "Unsupported image format"
	case ErrCodePermissionDenied:
		return "Permission denied"
	case ErrCodeLimitExceeded:
		return "Image is too large to display"
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return "Invalid configuration"
	}
	return e.Message
}
