package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

func TestRecommendations(t *testing.T) {
	critical := &models.RiskAssessmentResult{
		Level:                models.RiskLevelCritical,
		Confidence:           0.6,
		RequiresVerification: true,
		CascadeEffects: []models.CascadeEffect{
			{Type: models.CascadeAsyncBoundary, Severity: 0.85, AffectedComponents: []string{"loadUser", "saveUser", "sync", "flush"}},
		},
	}
	plan := &models.VerificationPlan{
		Steps:          make([]models.VerificationStep, 12),
		Strategy:       models.MitigationStrategy{Type: models.StrategyFeatureFlag, TimeToImplementHours: 4, RiskReduction: 0.9},
		Review:         models.ReviewRequirement{Required: true, ApprovalThreshold: 2, Reviewers: []models.ReviewerRole{models.ReviewerSeniorDeveloper, models.ReviewerTechLead}},
		EstimatedHours: 11,
	}

	assert.Equal(t, []string{
		"Block automatic merge: critical risk needs a feature-flagged rollout",
		"Watch for async timing changes reaching loadUser, saveUser, sync and 1 more (severity 0.85)",
		"Obtain 2 approval(s) from: senior developer, tech lead",
		"Apply feature flag (about 4h to implement, 90% risk reduction)",
		"Budget 11 hour(s) for 12 verification step(s)",
		"Assessment confidence is low (60%); confirm the verdict manually",
	}, recommendations(critical, plan))

	low := &models.RiskAssessmentResult{Level: models.RiskLevelLow, Confidence: 1}
	assert.Equal(t, []string{"Low risk: a passing compilation check is sufficient"},
		recommendations(low, &models.VerificationPlan{}))
}

func TestListComponents(t *testing.T) {
	assert.Equal(t, "dependent code", listComponents(nil))
	assert.Equal(t, "A, B", listComponents([]string{"A", "B"}))
}
