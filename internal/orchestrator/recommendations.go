package orchestrator

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

const maxListedComponents = 3

var levelAdvice = map[models.RiskLevel]string{
	models.RiskLevelCritical: "Block automatic merge: critical risk needs a feature-flagged rollout",
	models.RiskLevelHigh:     "Hold the change for senior review before merging",
	models.RiskLevelMedium:   "Run the generated verification steps before merging",
	models.RiskLevelLow:      "Low risk: a passing compilation check is sufficient",
}

var cascadeAdvice = map[models.CascadeType]string{
	models.CascadeTypeInference:       "type inference changes",
	models.CascadeModuleBoundary:      "module boundary changes",
	models.CascadeAsyncBoundary:       "async timing changes",
	models.CascadeFrameworkContract:   "framework contract changes",
	models.CascadeCompoundInteraction: "interacting changes",
}

// recommendations derives ordered, human-readable advice from an assessment
// and its plan. Output depends only on the inputs.
func recommendations(a *models.RiskAssessmentResult, plan *models.VerificationPlan) []string {
	recs := []string{levelAdvice[a.Level]}

	for _, effect := range a.CascadeEffects {
		what := cascadeAdvice[effect.Type]
		if what == "" {
			what = strings.ToLower(string(effect.Type))
		}
		recs = append(recs, fmt.Sprintf("Watch for %s reaching %s (severity %.2f)",
			what, listComponents(effect.AffectedComponents), effect.Severity))
	}

	if plan == nil {
		return recs
	}

	if plan.Review.Required {
		roles := make([]string, len(plan.Review.Reviewers))
		for i, r := range plan.Review.Reviewers {
			roles[i] = strings.ToLower(strings.ReplaceAll(string(r), "_", " "))
		}
		recs = append(recs, fmt.Sprintf("Obtain %d approval(s) from: %s",
			plan.Review.ApprovalThreshold, strings.Join(roles, ", ")))
	}

	if a.RequiresVerification {
		recs = append(recs, fmt.Sprintf("Apply %s (about %.0fh to implement, %.0f%% risk reduction)",
			strings.ToLower(strings.ReplaceAll(string(plan.Strategy.Type), "_", " ")),
			plan.Strategy.TimeToImplementHours, plan.Strategy.RiskReduction*100))
		recs = append(recs, fmt.Sprintf("Budget %.0f hour(s) for %d verification step(s)",
			plan.EstimatedHours, len(plan.Steps)))
	}

	if a.Confidence < 0.7 {
		recs = append(recs, fmt.Sprintf("Assessment confidence is low (%.0f%%); confirm the verdict manually",
			a.Confidence*100))
	}
	return recs
}

func listComponents(components []string) string {
	switch {
	case len(components) == 0:
		return "dependent code"
	case len(components) <= maxListedComponents:
		return strings.Join(components, ", ")
	default:
		return fmt.Sprintf("%s and %d more",
			strings.Join(components[:maxListedComponents], ", "), len(components)-maxListedComponents)
	}
}
