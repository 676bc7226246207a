// Package errors defines the typed error taxonomy of the build pipeline.
//
// Every failure the pipeline can report carries an ErrorType so callers can
// decide how loud to be about it: configuration errors and spawn failures are
// shown to the user, step failures surface as a status plus the captured log,
// resolution failures and watch gaps are only logged.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeResolution ErrorType = "resolution"
	ErrorTypeSpawn      ErrorType = "spawn"
	ErrorTypeStep       ErrorType = "step"
	ErrorTypeWatch      ErrorType = "watch"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeMissingCommand  = "TOOLCHAIN_MISSING_COMMAND"
	ErrCodeInvalidArgs     = "TOOLCHAIN_INVALID_ARGS"
	ErrCodeInvalidStep     = "TOOLCHAIN_INVALID_STEP"
	ErrCodeEmptyToolchain  = "TOOLCHAIN_EMPTY"
	ErrCodeInvalidConfig   = "CONFIG_INVALID"
	ErrCodeRootUnresolved  = "ROOT_UNRESOLVED"
	ErrCodeSpawnFailed     = "SPAWN_FAILED"
	ErrCodeStepExit        = "STEP_EXIT_NONZERO"
	ErrCodeStepSignal      = "STEP_SIGNALED"
	ErrCodeUnreadable      = "WATCH_UNREADABLE"
	ErrCodeWatchSubscribe  = "WATCH_SUBSCRIBE_FAILED"
	ErrCodeCleanupFailed   = "CLEANUP_FAILED"
	ErrCodeSessionShutdown = "SESSION_SHUTDOWN"
)

// TexworkError is a structured error type with context.
type TexworkError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	FilePath string
}

// Error implements the error interface.
func (e *TexworkError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		result += " (" + strings.Join(kv, ", ") + ")"
	}

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TexworkError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *TexworkError) Is(target error) bool {
	var t *TexworkError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithContext adds context information to the error.
func (e *TexworkError) WithContext(key string, value interface{}) *TexworkError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithPath records the file the error concerns.
func (e *TexworkError) WithPath(path string) *TexworkError {
	e.FilePath = path
	return e
}

// NewConfigError creates a configuration error. Configuration errors abort
// a build before any process is spawned and are never retried.
func NewConfigError(code, message string) *TexworkError {
	return &TexworkError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewResolutionError reports that no root file could be determined.
func NewResolutionError(message string) *TexworkError {
	return &TexworkError{
		Type:    ErrorTypeResolution,
		Code:    ErrCodeRootUnresolved,
		Message: message,
	}
}

// NewSpawnError reports a child process that could not be started.
func NewSpawnError(command string, cause error, stderr string) *TexworkError {
	err := &TexworkError{
		Type:    ErrorTypeSpawn,
		Code:    ErrCodeSpawnFailed,
		Message: fmt.Sprintf("cannot start %q, does the executable exist?", command),
		Cause:   cause,
	}
	err.WithContext("command", command)
	if stderr != "" {
		err.WithContext("stderr", stderr)
	}
	return err
}

// NewStepError reports a toolchain step that ran but did not succeed.
// A non-empty signal means the process was terminated rather than exiting.
func NewStepError(command string, exitCode int, signal string) *TexworkError {
	err := &TexworkError{
		Type:    ErrorTypeStep,
		Code:    ErrCodeStepExit,
		Message: fmt.Sprintf("%s exited with code %d", command, exitCode),
	}
	err.WithContext("command", command).WithContext("exit_code", exitCode)
	if signal != "" {
		err.Code = ErrCodeStepSignal
		err.Message = fmt.Sprintf("%s terminated by %s", command, signal)
		err.WithContext("signal", signal)
	}
	return err
}

// NewWatchGap reports a dependency that could not be read while scanning.
func NewWatchGap(path string, cause error) *TexworkError {
	return &TexworkError{
		Type:     ErrorTypeWatch,
		Code:     ErrCodeUnreadable,
		Message:  "dependency could not be read",
		Cause:    cause,
		FilePath: path,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *TexworkError {
	return &TexworkError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TexworkError {
	return &TexworkError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// TypeOf returns the ErrorType of err, or "" if err is not a TexworkError.
func TypeOf(err error) ErrorType {
	var te *TexworkError
	if errors.As(err, &te) {
		return te.Type
	}
	return ""
}

// IsType reports whether err is a TexworkError of the given type.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// UserVisible reports whether err should be shown to the user explicitly
// rather than only logged.
func UserVisible(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConfig, ErrorTypeSpawn:
		return true
	default:
		return false
	}
}
