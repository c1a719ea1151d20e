package models

import (
	"time"
)

// RiskLevel is the ordinal classification of a normalized risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Rank orders levels LOW=0 .. CRITICAL=3; unknown levels rank -1
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelLow:
		return 0
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether l is one of the four known levels
func (l RiskLevel) Valid() bool {
	return l.Rank() >= 0
}

// RiskFactorType identifies an independent risk signal
type RiskFactorType string

const (
	FactorAsyncComplexity      RiskFactorType = "ASYNC_COMPLEXITY"
	FactorTypeSafety           RiskFactorType = "TYPE_SAFETY"
	FactorStructuralComplexity RiskFactorType = "STRUCTURAL_COMPLEXITY"
	FactorExternalDependency   RiskFactorType = "EXTERNAL_DEPENDENCY"
	FactorBusinessCriticality  RiskFactorType = "BUSINESS_CRITICALITY"
	FactorTransformationVolume RiskFactorType = "TRANSFORMATION_VOLUME"
	FactorPatternComplexity    RiskFactorType = "PATTERN_COMPLEXITY"
)

// CascadeType classifies how a change's risk propagates through dependent code
type CascadeType string

const (
	CascadeTypeInference       CascadeType = "TYPE_INFERENCE_CASCADE"
	CascadeModuleBoundary      CascadeType = "MODULE_BOUNDARY_CASCADE"
	CascadeAsyncBoundary       CascadeType = "ASYNC_BOUNDARY_CASCADE"
	CascadeFrameworkContract   CascadeType = "FRAMEWORK_CONTRACT_CASCADE"
	CascadeCompoundInteraction CascadeType = "COMPOUND_INTERACTION"
)

// BusinessDomain is the functional area a file belongs to
type BusinessDomain string

const (
	DomainAuthentication BusinessDomain = "AUTHENTICATION"
	DomainPayment        BusinessDomain = "PAYMENT"
	DomainAPI            BusinessDomain = "API"
	DomainData           BusinessDomain = "DATA"
	DomainUI             BusinessDomain = "UI"
	DomainUtility        BusinessDomain = "UTILITY"
	DomainGeneral        BusinessDomain = "GENERAL"
)

// Environment is the deployment target of a change
type Environment string

const (
	EnvironmentDevelopment Environment = "DEVELOPMENT"
	EnvironmentStaging     Environment = "STAGING"
	EnvironmentProduction  Environment = "PRODUCTION"
)

// Transformation summarizes one automated transformation already applied to a file
type Transformation struct {
	Type     string   `json:"type" yaml:"type" validate:"required"`
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Count    int      `json:"count" yaml:"count" validate:"gte=0"`
}

// BusinessContext carries optional caller knowledge about the change
type BusinessContext struct {
	Domain               string      `json:"domain,omitempty" yaml:"domain,omitempty"`
	Criticality          *float64    `json:"criticality,omitempty" yaml:"criticality,omitempty" validate:"omitempty,gte=0,lte=1"`
	Environment          Environment `json:"environment,omitempty" yaml:"environment,omitempty" validate:"omitempty,oneof=DEVELOPMENT STAGING PRODUCTION"`
	AccessControl        bool        `json:"access_control,omitempty" yaml:"access_control,omitempty"`
	HandlesSensitiveData bool        `json:"handles_sensitive_data,omitempty" yaml:"handles_sensitive_data,omitempty"`
}

// AssessmentInput is the immutable per-request input to risk assessment
type AssessmentInput struct {
	FilePath        string           `json:"file_path"`
	Content         string           `json:"content"`
	Transformations []Transformation `json:"transformations"`
	BusinessContext *BusinessContext `json:"business_context,omitempty"`
}

// RiskFactor is one weighted risk signal
type RiskFactor struct {
	Type        RiskFactorType `json:"type"`
	Weight      float64        `json:"weight"`
	Value       float64        `json:"value"`
	Confidence  float64        `json:"confidence"`
	Description string         `json:"description"`
}

// CascadeEffect predicts how one propagation mechanism spreads the change
type CascadeEffect struct {
	Type                 CascadeType `json:"type"`
	Severity             float64     `json:"severity"`
	AffectedComponents   []string    `json:"affected_components"`
	Prediction           string      `json:"prediction"`
	MitigationComplexity float64     `json:"mitigation_complexity"`
}

// RiskAssessmentResult is the verdict of the risk assessment stage
type RiskAssessmentResult struct {
	FilePath             string           `json:"file_path"`
	Score                float64          `json:"score"`
	Level                RiskLevel        `json:"level"`
	Factors              []RiskFactor     `json:"factors"`
	CascadeType          CascadeType      `json:"cascade_type"`
	CascadeEffects       []CascadeEffect  `json:"cascade_effects"`
	BusinessDomain       BusinessDomain   `json:"business_domain"`
	BusinessImpact       string           `json:"business_impact"`
	Confidence           float64          `json:"confidence"`
	RequiresVerification bool             `json:"requires_verification"`
	RequiresHumanReview  bool             `json:"requires_human_review"`
	BusinessContext      *BusinessContext `json:"business_context,omitempty"`
	AssessedAt           time.Time        `json:"assessed_at"`
}

// StepCategory groups verification steps
type StepCategory string

const (
	StepCategoryCompilation StepCategory = "COMPILATION"
	StepCategoryUnit        StepCategory = "UNIT_TEST"
	StepCategoryIntegration StepCategory = "INTEGRATION_TEST"
	StepCategoryEndToEnd    StepCategory = "E2E_TEST"
	StepCategorySecurity    StepCategory = "SECURITY"
	StepCategoryPerformance StepCategory = "PERFORMANCE"
	StepCategoryManual      StepCategory = "MANUAL_REVIEW"
)

// Priority orders verification steps; CRITICAL runs first
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Rank orders priorities CRITICAL=0 .. LOW=3
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// VerificationStep is one concrete check required before a change ships
type VerificationStep struct {
	ID               string       `json:"id"`
	Description      string       `json:"description"`
	Category         StepCategory `json:"category"`
	Priority         Priority     `json:"priority"`
	EstimatedMinutes int          `json:"estimated_minutes"`
	Automatable      bool         `json:"automatable"`
	Dependencies     []string     `json:"dependencies,omitempty"`
	SuccessCriteria  []string     `json:"success_criteria"`
	RequiredTools    []string     `json:"required_tools,omitempty"`
}

// StrategyType names a deployment-safety strategy
type StrategyType string

const (
	StrategyFeatureFlag        StrategyType = "FEATURE_FLAG"
	StrategyPhasedRollout      StrategyType = "PHASED_ROLLOUT"
	StrategyTestingEnhancement StrategyType = "TESTING_ENHANCEMENT"
)

// MitigationStrategy is a deployment-safety plan with its rollback
type MitigationStrategy struct {
	Type                   StrategyType `json:"type"`
	Description            string       `json:"description"`
	ImplementationSteps    []string     `json:"implementation_steps"`
	RollbackPlan           string       `json:"rollback_plan"`
	MonitoringRequirements []string     `json:"monitoring_requirements"`
	RiskReduction          float64      `json:"risk_reduction"`
	Complexity             int          `json:"complexity"`
	TimeToImplementHours   float64      `json:"time_to_implement_hours"`
}

// ReviewerRole is a human role required to approve a change
type ReviewerRole string

const (
	ReviewerSeniorDeveloper ReviewerRole = "SENIOR_DEVELOPER"
	ReviewerTechLead        ReviewerRole = "TECH_LEAD"
)

// ReviewRequirement is the human-review policy triggered by risk
type ReviewRequirement struct {
	Required           bool           `json:"required"`
	Reviewers          []ReviewerRole `json:"reviewers"`
	FocusAreas         []string       `json:"focus_areas"`
	EstimatedHours     float64        `json:"estimated_hours"`
	ApprovalThreshold  int            `json:"approval_threshold"`
	EscalationCriteria []string       `json:"escalation_criteria"`
}

// VerificationPlan combines steps, strategy and review into one plan
type VerificationPlan struct {
	Steps          []VerificationStep    `json:"steps"`
	Strategy       MitigationStrategy    `json:"strategy"`
	Review         ReviewRequirement     `json:"review"`
	EstimatedHours float64               `json:"estimated_hours"`
	Confidence     float64               `json:"confidence"`
	Assessment     *RiskAssessmentResult `json:"-" yaml:"-"`
	GeneratedAt    time.Time             `json:"generated_at"`
}
