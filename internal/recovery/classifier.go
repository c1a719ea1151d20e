package recovery

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/crisk-verify/internal/errors"
)

// categoryKeywords is evaluated in order against the lowercased message; the
// first category with a matching keyword wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryRateLimit, []string{"rate limit", "too many requests", "429"}},
	{CategoryAuthentication, []string{"unauthorized", "authentication", "invalid api key", "401", "403", "forbidden"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryQuota, []string{"quota", "insufficient credits", "billing"}},
	{CategoryNetwork, []string{"network", "connection", "econnrefused", "dns", "socket"}},
	{CategoryValidation, []string{"invalid", "validation", "bad request", "400"}},
	{CategoryServiceUnavailable, []string{"service unavailable", "503", "502", "overloaded", "unavailable"}},
	{CategoryModel, []string{"model", "context length", "token limit"}},
}

var categorySeverity = map[Category]Severity{
	CategoryServiceUnavailable: SeverityCritical,
	CategoryAuthentication:     SeverityCritical,
	CategoryRateLimit:          SeverityError,
	CategoryQuota:              SeverityError,
	CategoryTimeout:            SeverityError,
	CategoryNetwork:            SeverityWarning,
	CategoryModel:              SeverityWarning,
	CategoryValidation:         SeverityInfo,
}

var (
	retryStrategy = RecoveryStrategy{
		Type:                     StrategyRetryWithBackoff,
		Description:              "Wait with exponential backoff and retry the operation",
		AutoRecoverable:          true,
		EstimatedRecoverySeconds: 60,
		FallbackOptions:          []StrategyType{StrategyQueueForRetry, StrategyFallbackToCache},
		RequiredActions:          []string{"honour retry-after hints", "reduce request rate"},
	}
	circuitStrategy = RecoveryStrategy{
		Type:                     StrategyCircuitBreaker,
		Description:              "Stop calling the failing service until it recovers",
		AutoRecoverable:          true,
		EstimatedRecoverySeconds: 300,
		FallbackOptions:          []StrategyType{StrategyAlternativeProvider, StrategyGracefulDegradation},
		RequiredActions:          []string{"open circuit for the service", "check service health before closing"},
	}
	reduceStrategy = RecoveryStrategy{
		Type:                     StrategyReduceComplexity,
		Description:              "Retry with a smaller or simpler request",
		AutoRecoverable:          true,
		EstimatedRecoverySeconds: 30,
		FallbackOptions:          []StrategyType{StrategyRetryWithBackoff},
		RequiredActions:          []string{"split the request", "lower request size"},
	}
	manualStrategy = RecoveryStrategy{
		Type:                     StrategyManualIntervention,
		Description:              "Escalate to an operator; the failure cannot be resolved automatically",
		AutoRecoverable:          false,
		EstimatedRecoverySeconds: 3600,
		FallbackOptions:          []StrategyType{},
		RequiredActions:          []string{"verify credentials", "rotate API keys if compromised"},
	}
	defaultStrategy = RecoveryStrategy{
		Type:                     StrategyRetryWithBackoff,
		Description:              "Retry the operation after a delay",
		AutoRecoverable:          true,
		EstimatedRecoverySeconds: 120,
		FallbackOptions:          []StrategyType{StrategyFallbackToCache, StrategyGracefulDegradation},
		RequiredActions:          []string{"retry the operation", "inspect logs if the failure persists"},
	}
)

var categoryStrategy = map[Category]RecoveryStrategy{
	CategoryRateLimit:          retryStrategy,
	CategoryServiceUnavailable: circuitStrategy,
	CategoryTimeout:            reduceStrategy,
	CategoryAuthentication:     manualStrategy,
}

var categoryPrevention = map[Category][]string{
	CategoryRateLimit:          {"add client-side rate limiting", "batch requests"},
	CategoryAuthentication:     {"monitor credential expiry", "store keys in a secret manager"},
	CategoryTimeout:            {"set request size limits", "tune timeouts per operation"},
	CategoryQuota:              {"alert on quota usage", "raise plan limits"},
	CategoryNetwork:            {"add connection retries", "monitor network health"},
	CategoryValidation:         {"validate input before submission"},
	CategoryServiceUnavailable: {"configure an alternative provider", "monitor upstream status"},
	CategoryModel:              {"check model availability", "trim inputs to the context window"},
	CategoryInternal:           {"add regression tests for the failure"},
}

// Classifier maps failures to a category, severity and recovery strategy
type Classifier struct{}

// NewClassifier creates a classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Categorize returns the failure category. Typed validation errors are
// classified before any keyword matching.
func (c *Classifier) Categorize(err error) Category {
	if err == nil {
		return CategoryInternal
	}
	if errors.GetType(err) == errors.ErrorTypeValidation {
		return CategoryValidation
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.category
			}
		}
	}
	return CategoryInternal
}

// SeverityOf returns the static severity for a category
func SeverityOf(category Category) Severity {
	if s, ok := categorySeverity[category]; ok {
		return s
	}
	return SeverityError
}

// StrategyFor returns a copy of the static recovery strategy for a category
func StrategyFor(category Category) RecoveryStrategy {
	s, ok := categoryStrategy[category]
	if !ok {
		s = defaultStrategy
	}
	s.FallbackOptions = append([]StrategyType{}, s.FallbackOptions...)
	s.RequiredActions = append([]string{}, s.RequiredActions...)
	return s
}

// Analyze classifies err in the given context
func (c *Classifier) Analyze(err error, ectx ErrorContext) *ErrorAnalysis {
	category := c.Categorize(err)
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}

	operation := ectx.Operation
	if operation == "" {
		operation = "operation"
	}
	return &ErrorAnalysis{
		Category:           category,
		Severity:           SeverityOf(category),
		Cause:              message,
		Impact:             fmt.Sprintf("%s failed with %s", operation, strings.ToLower(strings.ReplaceAll(string(category), "_", " "))),
		Service:            ectx.Service,
		Strategy:           StrategyFor(category),
		PreventionMeasures: append([]string{}, categoryPrevention[category]...),
	}
}
