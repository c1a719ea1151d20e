package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Validation errors - malformed input to a public entry point
	ErrorTypeValidation
	// Generation errors - a plan sub-generator failed
	ErrorTypeGeneration
	// Orchestration errors - cache, workflow or metrics faults
	ErrorTypeOrchestration
	// Recovery errors - the recovery engine could not run a strategy
	ErrorTypeRecovery
	// External errors - external service failures
	ErrorTypeExternal
	// Internal errors - unexpected internal state
	ErrorTypeInternal
	// Lifecycle errors - the system is shutting down
	ErrorTypeLifecycle
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error codes surfaced across the public boundary.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeBatchValidation    = "BATCH_VALIDATION_ERROR"
	CodeSystemShutdown     = "SYSTEM_SHUTDOWN"
	CodeVerification       = "VERIFICATION_ERROR"
	CodeOrchestration      = "ORCHESTRATION_ERROR"
	CodeGeneration         = "GENERATION_ERROR"
	CodeStrategy           = "STRATEGY_ERROR"
	CodeWorkflowNotFound   = "WORKFLOW_NOT_FOUND"
	CodeWorkflowExists     = "WORKFLOW_ALREADY_EXISTS"
	CodeWorkflowTransition = "WORKFLOW_INVALID_TRANSITION"
	CodeCacheRemote        = "CACHE_REMOTE_ERROR"
	CodeMetricsInvalid     = "METRICS_INVALID_SAMPLE"
	CodeConfig             = "CONFIG_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

const (
	contextKeyIssues        = "issues"
	defaultStackTraceFrames = 10
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Code       string
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
	Timestamp  string
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := e.Message
	if e.Code != "" {
		prefix = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Cause)
	}
	return prefix
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is matches on code when the target carries one, otherwise on type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] [%s] %s\n",
		severityString(e.Severity),
		typeString(e.Type),
		e.Code,
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Context:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, e.Context[k]))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeGeneration:
		return "GENERATION"
	case ErrorTypeOrchestration:
		return "ORCHESTRATION"
	case ErrorTypeRecovery:
		return "RECOVERY"
	case ErrorTypeExternal:
		return "EXTERNAL"
	case ErrorTypeInternal:
		return "INTERNAL"
	case ErrorTypeLifecycle:
		return "LIFECYCLE"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+defaultStackTraceFrames; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, code, severity, and message
func New(errType ErrorType, code string, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Code:       code,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(3),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, code string, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	e := New(errType, code, severity, message)
	e.Cause = err
	return e
}

// Convenience constructors for common error types

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, CodeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ValidationError creates a validation error carrying the individual issues.
func ValidationError(message string, issues ...string) *Error {
	e := New(ErrorTypeValidation, CodeValidation, SeverityHigh, message)
	if len(issues) > 0 {
		e.Context[contextKeyIssues] = append([]string(nil), issues...)
	}
	return e
}

// ValidationErrorf creates a validation error with formatting
func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, CodeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// BatchValidationError creates a batch-level validation error
func BatchValidationError(message string) *Error {
	return New(ErrorTypeValidation, CodeBatchValidation, SeverityHigh, message)
}

// ShutdownError reports that the system no longer accepts work
func ShutdownError(operation string) *Error {
	return New(ErrorTypeLifecycle, CodeSystemShutdown, SeverityHigh,
		fmt.Sprintf("system is shut down, rejecting %s", operation))
}

// GenerationError wraps a plan sub-generator failure
func GenerationError(err error, generator string) *Error {
	return Wrap(err, ErrorTypeGeneration, CodeGeneration, SeverityHigh,
		fmt.Sprintf("%s generation failed", generator))
}

// VerificationError wraps an unexpected failure inside a verification request
func VerificationError(err error, message string) *Error {
	return Wrap(err, ErrorTypeInternal, CodeVerification, SeverityHigh, message)
}

// OrchestrationError wraps a critical-path orchestration fault
func OrchestrationError(err error, message string) *Error {
	return Wrap(err, ErrorTypeOrchestration, CodeOrchestration, SeverityHigh, message)
}

// OrchestrationErrorf creates an orchestration error with a specific subsystem code
func OrchestrationErrorf(code string, format string, args ...interface{}) *Error {
	return New(ErrorTypeOrchestration, code, SeverityMedium, fmt.Sprintf(format, args...))
}

// StrategyErrorf creates a recovery strategy error
func StrategyErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeRecovery, CodeStrategy, SeverityMedium, fmt.Sprintf(format, args...))
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, CodeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether any *Error in err's chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// CodeOf returns the code of the outermost *Error, or "" if there is none
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Issues returns the validation issues attached to err, if any
func Issues(err error) []string {
	e, ok := As(err)
	if !ok {
		return nil
	}
	issues, _ := e.Context[contextKeyIssues].([]string)
	return issues
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	if e, ok := As(err); ok {
		return e.IsFatal()
	}
	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}
	if e, ok := As(err); ok {
		return e.Severity
	}
	return SeverityMedium
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	if e, ok := As(err); ok {
		return e.Type
	}
	return ErrorTypeInternal
}
