// Package errors defines the structured error type shared by the preview
// pipeline. Each error carries a category that decides whether it is fatal
// (startup) or recovered locally (steady state).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeWatchSetup ErrorType = "watch_setup"
	ErrorTypeRead       ErrorType = "read"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeBodyRead   ErrorType = "body_read"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeExport     ErrorType = "export"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeWatchFailed     = "ERR_WATCH_FAILED"
	ErrCodeSourceRead      = "ERR_SOURCE_READ"
	ErrCodeRenderFailed    = "ERR_RENDER_FAILED"
	ErrCodeBodyTooLarge    = "ERR_BODY_TOO_LARGE"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeExportDirExists = "ERR_EXPORT_DIR_EXISTS"
	ErrCodeExportWrite     = "ERR_EXPORT_WRITE"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// Error is a structured error with a category and an optional cause.
type Error struct {
	Type        ErrorType
	Code        string
	Message     string
	Path        string
	Cause       error
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithPath attaches the file the error relates to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path

	return e
}

// NewWatchSetupError creates an error for a watcher that could not start.
func NewWatchSetupError(path string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeWatchSetup,
		Code:    ErrCodeWatchFailed,
		Message: "failed to set up file watcher",
		Path:    path,
		Cause:   cause,
	}
}

// NewReadError creates an error for an unreadable source document. It is
// recoverable because a rebuild may succeed once the file is back.
func NewReadError(path string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeRead,
		Code:        ErrCodeSourceRead,
		Message:     "failed to read markdown file",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewRenderError creates an error for a renderer failure.
func NewRenderError(path string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeRender,
		Code:        ErrCodeRenderFailed,
		Message:     "failed to render markdown",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewBodyReadError creates an error for a response body the injector could
// not buffer.
func NewBodyReadError(message string) *Error {
	return &Error{
		Type:        ErrorTypeBodyRead,
		Code:        ErrCodeBodyTooLarge,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
		Cause:   cause,
	}
}

// NewExportError creates an export error.
func NewExportError(code, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeExport,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}

	return false
}

// IsFatal reports whether err must stop the process. Unknown errors are
// treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return !IsRecoverable(err)
}

// IsType checks if an error has the given category.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}

	return false
}
