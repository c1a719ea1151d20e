package recovery

import "time"

// Category is the closed set of failure classes
type Category string

const (
	CategoryRateLimit          Category = "RATE_LIMIT_EXCEEDED"
	CategoryAuthentication     Category = "AUTHENTICATION_FAILED"
	CategoryTimeout            Category = "TIMEOUT"
	CategoryQuota              Category = "QUOTA_EXCEEDED"
	CategoryNetwork            Category = "NETWORK_ERROR"
	CategoryValidation         Category = "VALIDATION_ERROR"
	CategoryServiceUnavailable Category = "SERVICE_UNAVAILABLE"
	CategoryModel              Category = "MODEL_ERROR"
	CategoryInternal           Category = "INTERNAL_ERROR"
)

// Severity of a classified failure
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// StrategyType names a recovery strategy
type StrategyType string

const (
	StrategyRetryWithBackoff    StrategyType = "RETRY_WITH_BACKOFF"
	StrategyCircuitBreaker      StrategyType = "CIRCUIT_BREAKER"
	StrategyFallbackToCache     StrategyType = "FALLBACK_TO_CACHE"
	StrategyAlternativeProvider StrategyType = "ALTERNATIVE_PROVIDER"
	StrategyGracefulDegradation StrategyType = "GRACEFUL_DEGRADATION"
	StrategyManualIntervention  StrategyType = "MANUAL_INTERVENTION"
	StrategyReduceComplexity    StrategyType = "REDUCE_COMPLEXITY"
	StrategyQueueForRetry       StrategyType = "QUEUE_FOR_RETRY"
)

// RecoveryStrategy is a predefined response to a classified failure
type RecoveryStrategy struct {
	Type                     StrategyType   `json:"type"`
	Description              string         `json:"description"`
	AutoRecoverable          bool           `json:"auto_recoverable"`
	EstimatedRecoverySeconds int            `json:"estimated_recovery_seconds"`
	FallbackOptions          []StrategyType `json:"fallback_options"`
	RequiredActions          []string       `json:"required_actions"`
}

// ErrorContext describes where a failure happened. Created once per failure.
type ErrorContext struct {
	Operation     string            `json:"operation"`
	Service       string            `json:"service"`
	SessionID     string            `json:"session_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// ErrorAnalysis is the classifier's verdict on one failure
type ErrorAnalysis struct {
	Category           Category         `json:"category"`
	Severity           Severity         `json:"severity"`
	Cause              string           `json:"cause"`
	Impact             string           `json:"impact"`
	Service            string           `json:"service"`
	Strategy           RecoveryStrategy `json:"strategy"`
	PreventionMeasures []string         `json:"prevention_measures"`
}

// RecoveryAttempt records one execution of a recovery strategy.
// NextStrategy is set only when the attempt failed and the chain continues.
type RecoveryAttempt struct {
	ID           string       `json:"id"`
	Strategy     StrategyType `json:"strategy"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  time.Time    `json:"completed_at"`
	Success      bool         `json:"success"`
	Details      string       `json:"details"`
	NextStrategy StrategyType `json:"next_strategy,omitempty"`
}

// ErrorReport is one entry in the error report log
type ErrorReport struct {
	ID         string             `json:"id"`
	Err        error              `json:"-"`
	Message    string             `json:"message"`
	Context    ErrorContext       `json:"context"`
	Analysis   ErrorAnalysis      `json:"analysis"`
	Attempts   []*RecoveryAttempt `json:"attempts"`
	Resolved   bool               `json:"resolved"`
	ReportedAt time.Time          `json:"reported_at"`
}
