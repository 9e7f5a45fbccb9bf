// Package errors provides the structured error system for the Galerly
// transformation core, with error codes, categories, and the wire shape
// used across the invocation boundary.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for transform operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Storage errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"

	// Transform errors
	ErrCodeDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrCodeEncodeFailed      ErrorCode = "ENCODE_FAILED"
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvocationFailed  ErrorCode = "INVOCATION_FAILED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryTransform     ErrorCategory = "transform"
	CategoryOperation     ErrorCategory = "operation"
	CategoryConnection    ErrorCategory = "connection"
	CategoryInternal      ErrorCategory = "internal"
)

// TransformError represents a structured error with context and metadata.
type TransformError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TransformError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so sentinel comparisons work across wrapping.
func (e *TransformError) Is(target error) bool {
	if te, ok := target.(*TransformError); ok {
		return e.Code == te.Code
	}
	return false
}

// Kind maps the error code onto the invocation-boundary taxonomy. The edge
// router keys its fallback decision off this value.
func (e *TransformError) Kind() string {
	switch e.Code {
	case ErrCodeObjectNotFound:
		return "NotFound"
	case ErrCodeDecodeFailed, ErrCodeEncodeFailed:
		return "DecodeError"
	case ErrCodeUnsupportedFormat:
		return "UnsupportedFormat"
	case ErrCodeOperationTimeout, ErrCodeConnectionTimeout:
		return "Timeout"
	case ErrCodeStorageWrite:
		return "StorageWriteError"
	case ErrCodeValidationFailed:
		return "ValidationError"
	default:
		return "Internal"
	}
}

// wireError is the structured error shape crossing the invocation boundary.
type wireError struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// WireJSON serializes the error into the invocation-boundary shape
// {"error_kind": ..., "message": ...}.
func (e *TransformError) WireJSON() []byte {
	data, err := json.Marshal(wireError{ErrorKind: e.Kind(), Message: e.Message})
	if err != nil {
		return []byte(`{"error_kind":"Internal","message":"failed to marshal error"}`)
	}
	return data
}

// NewError creates a new transform error with defaults derived from the code.
func NewError(code ErrorCode, message string) *TransformError {
	return &TransformError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Wrap creates a transform error around an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *TransformError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "OBJECT_") || strings.HasPrefix(codeStr, "BUCKET_") ||
		strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "ACCESS_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "DECODE_") || strings.HasPrefix(codeStr, "ENCODE_") ||
		strings.HasPrefix(codeStr, "UNSUPPORTED_"):
		return CategoryTransform
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "VALIDATION_") ||
		strings.HasPrefix(codeStr, "INVOCATION_") || strings.HasPrefix(codeStr, "RETRY_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryConnection
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Decode failures and missing objects are deliberately absent: they are
// terminal for the request, and retrying cannot change the outcome.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionTimeout: true,
		ErrCodeConnectionFailed:  true,
		ErrCodeNetworkError:      true,
		ErrCodeOperationTimeout:  true,
		ErrCodeStorageWrite:      true,
		ErrCodeInternalError:     true,
	}
	return retryableCodes[code]
}

// IsUserFacingByDefault determines if an error should surface to clients.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeObjectNotFound:    true,
		ErrCodeValidationFailed:  true,
		ErrCodeUnsupportedFormat: true,
	}
	return userFacingCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:     400,
		ErrCodeConfigValidation:  400,
		ErrCodeValidationFailed:  400,
		ErrCodeUnsupportedFormat: 400,
		ErrCodeAccessDenied:      403,
		ErrCodeObjectNotFound:    404,
		ErrCodeBucketNotFound:    404,
		ErrCodeDecodeFailed:      422,
		ErrCodeEncodeFailed:      422,
		ErrCodeInternalError:     500,
		ErrCodeOperationTimeout:  504,
		ErrCodeConnectionTimeout: 504,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// WithContext adds contextual information to an error.
func (e *TransformError) WithContext(key, value string) *TransformError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *TransformError) WithComponent(component string) *TransformError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *TransformError) WithOperation(operation string) *TransformError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *TransformError) WithCause(cause error) *TransformError {
	e.Cause = cause
	return e
}

// CodeOf extracts the error code from an error chain, or INTERNAL_ERROR if
// the chain carries no TransformError.
func CodeOf(err error) ErrorCode {
	var te *TransformError
	if As(err, &te) {
		return te.Code
	}
	return ErrCodeInternalError
}

// KindOf extracts the invocation-boundary kind from an error chain.
func KindOf(err error) string {
	var te *TransformError
	if As(err, &te) {
		return te.Kind()
	}
	return "Internal"
}

// IsNotFound reports whether the error chain carries OBJECT_NOT_FOUND.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeObjectNotFound
}
