package utils

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeRegion     ErrorType = "REGION"
	ErrorTypeFetch      ErrorType = "FETCH"
	ErrorTypeData       ErrorType = "DATA"
	ErrorTypeInternal   ErrorType = "INTERNAL"
	ErrorTypeConfig     ErrorType = "CONFIG"
)

// Error codes surfaced by the aggregation engine
const (
	CodeRegionResolution = "REGION_RESOLUTION_FAILED"
	CodeFeatureFetch     = "FEATURE_FETCH_FAILED"
	CodeMalformedSample  = "MALFORMED_SAMPLE_RECORD"
	CodeInvalidRequest   = "INVALID_REQUEST"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	StackTrace string                 `json:"stackTrace,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Component  string                 `json:"component"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the error is retryable
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds additional details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message, component string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Component: component,
		Timestamp: time.Now().UTC(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error context
func WrapError(err error, errorType ErrorType, code, message, component string) *AppError {
	appErr := NewAppError(errorType, code, message, component)
	appErr.Cause = err

	if includeStackTrace {
		appErr.StackTrace = getStackTrace()
	}

	return appErr
}

var includeStackTrace = false

// SetIncludeStackTrace configures whether to include stack traces in errors
func SetIncludeStackTrace(include bool) {
	includeStackTrace = include
}

// getStackTrace captures the current stack trace
func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip getStackTrace, WrapError, and the calling function

	var trace strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		trace.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return trace.String()
}

// RegionResolutionFailure wraps a failure to turn a region descriptor into geometry
func RegionResolutionFailure(err error, regionType string) *AppError {
	return WrapError(err, ErrorTypeRegion, CodeRegionResolution, "failed to resolve region", "ENGINE").
		WithContext("regionType", regionType)
}

// FeatureFetchFailure wraps the joined per-layer fetch errors of one update
func FeatureFetchFailure(err error, layers []string) *AppError {
	appErr := WrapError(err, ErrorTypeFetch, CodeFeatureFetch, "failed to fetch layer features", "ENGINE").
		WithContext("layers", layers)
	appErr.Retryable = true
	return appErr
}

// MalformedSampleRecord reports a feature record that cannot be decoded, such
// as a sampled bin whose parallel arrays disagree in length
func MalformedSampleRecord(details string) *AppError {
	return NewAppError(ErrorTypeData, CodeMalformedSample, "malformed sample record", "STATS").
		WithDetails(details)
}

// IsCode reports whether any AppError in err's chain carries the given code
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetErrorType extracts the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// LogAppError logs an error with its structured context
func LogAppError(err error, logger *Logger) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		logger.Error("%v", err)
		return
	}

	fields := make([]string, 0, len(appErr.Context)+2)
	fields = append(fields, fmt.Sprintf("errorType=%s", appErr.Type), fmt.Sprintf("component=%s", appErr.Component))
	for k, v := range appErr.Context {
		fields = append(fields, fmt.Sprintf("%s=%v", k, v))
	}

	logger.Error("%s (%s)", appErr.Error(), strings.Join(fields, " "))
	if appErr.StackTrace != "" {
		logger.Debug("stack:\n%s", appErr.StackTrace)
	}
}
