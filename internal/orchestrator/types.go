package orchestrator

import (
	"time"

	"github.com/rohankatakam/crisk-verify/internal/metrics"
	"github.com/rohankatakam/crisk-verify/internal/models"
)

// VerificationRequest describes one candidate change. A nil Transformations
// slice is treated as missing; an empty one is allowed.
type VerificationRequest struct {
	FilePath        string                  `json:"file_path" yaml:"file_path" validate:"required"`
	Content         string                  `json:"content" yaml:"content" validate:"required"`
	Transformations []models.Transformation `json:"transformations" yaml:"transformations" validate:"required,dive"`
	BusinessContext *models.BusinessContext `json:"business_context,omitempty" yaml:"business_context,omitempty"`
}

func (r *VerificationRequest) assessmentInput() *models.AssessmentInput {
	return &models.AssessmentInput{
		FilePath:        r.FilePath,
		Content:         r.Content,
		Transformations: r.Transformations,
		BusinessContext: r.BusinessContext,
	}
}

// ResponseMetadata describes how a response was produced
type ResponseMetadata struct {
	CorrelationID  string        `json:"correlation_id" yaml:"correlation_id"`
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
	CacheHit       bool          `json:"cache_hit" yaml:"cache_hit"`
	ProcessingTime time.Duration `json:"processing_time" yaml:"processing_time"`
}

// VerificationResponse is the verdict and plan for one request. Responses
// served from cache share their assessment and plan with the cache and must
// be treated as read-only.
type VerificationResponse struct {
	RiskAssessment   *models.RiskAssessmentResult `json:"risk_assessment" yaml:"risk_assessment"`
	VerificationPlan *models.VerificationPlan     `json:"verification_plan" yaml:"verification_plan"`
	Recommendations  []string                     `json:"recommendations" yaml:"recommendations"`
	Metadata         ResponseMetadata             `json:"metadata" yaml:"metadata"`
}

// cachedVerification is what the orchestration cache stores per request
type cachedVerification struct {
	Assessment      *models.RiskAssessmentResult `json:"assessment"`
	Plan            *models.VerificationPlan     `json:"plan"`
	Recommendations []string                     `json:"recommendations"`
}

// BatchProgress is reported after every chunk
type BatchProgress struct {
	Completed int `json:"completed" yaml:"completed"`
	Total     int `json:"total" yaml:"total"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
}

// BatchOptions tunes ExecuteBatchVerification
type BatchOptions struct {
	MaxConcurrency int                  // <= 0 uses the configured default
	Progress       func(BatchProgress) // called after each chunk, may be nil
}

// BatchResult is the outcome for one request of a batch. An empty Errors
// slice means success.
type BatchResult struct {
	Errors   []string              `json:"errors" yaml:"errors"`
	Response *VerificationResponse `json:"response,omitempty" yaml:"response,omitempty"`
}

// OK reports whether the request succeeded
func (r BatchResult) OK() bool {
	return len(r.Errors) == 0
}

// MetricsHealth summarizes operation metrics
type MetricsHealth struct {
	PerformanceScore    float64       `json:"performance_score" yaml:"performance_score"`
	TotalOperations     int64         `json:"total_operations" yaml:"total_operations"`
	SuccessRate         float64       `json:"success_rate" yaml:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time" yaml:"average_response_time"`
}

// CacheHealth summarizes the orchestration cache
type CacheHealth struct {
	HitRate float64 `json:"hit_rate" yaml:"hit_rate"`
	Size    int     `json:"size" yaml:"size"`
	Remote  string  `json:"remote,omitempty" yaml:"remote,omitempty"` // "ok" or the last health failure
}

// WorkflowHealth summarizes tracked workflows
type WorkflowHealth struct {
	Active    int `json:"active" yaml:"active"`
	Completed int `json:"completed" yaml:"completed"`
	Failed    int `json:"failed" yaml:"failed"`
}

// RecoveryHealth summarizes the recovery subsystem
type RecoveryHealth struct {
	Degraded         bool `json:"degraded" yaml:"degraded"`
	UnresolvedErrors int  `json:"unresolved_errors" yaml:"unresolved_errors"`
}

// SystemHealth is the result of GetSystemHealth
type SystemHealth struct {
	Status    metrics.HealthStatus `json:"status" yaml:"status"`
	Metrics   MetricsHealth        `json:"metrics" yaml:"metrics"`
	Cache     CacheHealth          `json:"cache" yaml:"cache"`
	Workflows WorkflowHealth       `json:"workflows" yaml:"workflows"`
	Recovery  RecoveryHealth       `json:"recovery" yaml:"recovery"`
	CheckedAt time.Time            `json:"checked_at" yaml:"checked_at"`
}
