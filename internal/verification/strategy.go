package verification

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

// strategyTemplates is static data; Select hands out copies.
var strategyTemplates = map[models.StrategyType]models.MitigationStrategy{
	models.StrategyFeatureFlag: {
		Type:        models.StrategyFeatureFlag,
		Description: "Ship the change behind a feature flag and enable it gradually",
		ImplementationSteps: []string{
			"Wrap the changed code path in a feature flag defaulting to off",
			"Deploy with the flag disabled and confirm no behaviour change",
			"Enable the flag for internal users",
			"Ramp the flag to 10%, 50% and 100% of traffic while watching error rates",
			"Remove the flag and the old code path once stable",
		},
		RollbackPlan: "Disable the feature flag; the previous code path serves all traffic immediately without a redeploy",
		MonitoringRequirements: []string{
			"error rate per flag cohort",
			"latency per flag cohort",
			"business KPIs for the affected domain",
		},
		RiskReduction:        0.9,
		Complexity:           6,
		TimeToImplementHours: 4,
	},
	models.StrategyPhasedRollout: {
		Type:        models.StrategyPhasedRollout,
		Description: "Roll the change out to production in phases with health gates",
		ImplementationSteps: []string{
			"Deploy to a canary instance",
			"Compare canary health against the stable fleet for 30 minutes",
			"Expand to 25% of instances, then 100% if health gates pass",
		},
		RollbackPlan: "Halt the rollout and redeploy the previous release to the updated instances",
		MonitoringRequirements: []string{
			"canary versus baseline error rate",
			"instance health checks",
		},
		RiskReduction:        0.75,
		Complexity:           5,
		TimeToImplementHours: 3,
	},
	models.StrategyTestingEnhancement: {
		Type:        models.StrategyTestingEnhancement,
		Description: "Strengthen automated tests around the change before merging",
		ImplementationSteps: []string{
			"Add tests covering the transformed code paths",
			"Run the extended suite in CI",
		},
		RollbackPlan: "Revert the commit and redeploy the previous build",
		MonitoringRequirements: []string{
			"CI pass rate",
		},
		RiskReduction:        0.5,
		Complexity:           4,
		TimeToImplementHours: 2,
	},
}

// StrategySelector picks the deployment-safety strategy for an assessment
type StrategySelector struct {
	logger *logrus.Logger
}

// NewStrategySelector creates a strategy selector
func NewStrategySelector(logger *logrus.Logger) *StrategySelector {
	if logger == nil {
		logger = discardLogger()
	}
	return &StrategySelector{logger: logger}
}

// Select evaluates in order: CRITICAL always gets a feature flag, HIGH in
// production gets a phased rollout, everything else gets testing enhancement.
func (s *StrategySelector) Select(ctx context.Context, assessment *models.RiskAssessmentResult) (models.MitigationStrategy, error) {
	if err := ctx.Err(); err != nil {
		return models.MitigationStrategy{}, err
	}
	if assessment == nil {
		return models.MitigationStrategy{}, fmt.Errorf("risk assessment is nil")
	}
	if !assessment.Level.Valid() {
		return models.MitigationStrategy{}, fmt.Errorf("unknown risk level %q", assessment.Level)
	}

	var chosen models.StrategyType
	switch {
	case assessment.Level == models.RiskLevelCritical:
		chosen = models.StrategyFeatureFlag
	case assessment.Level == models.RiskLevelHigh && environmentOf(assessment) == models.EnvironmentProduction:
		chosen = models.StrategyPhasedRollout
	default:
		chosen = models.StrategyTestingEnhancement
	}

	s.logger.WithFields(logrus.Fields{
		"level":    assessment.Level,
		"strategy": chosen,
	}).Debug("mitigation strategy selected")

	return StrategyTemplate(chosen)
}

// StrategyTemplate returns a copy of the static template for a strategy type
func StrategyTemplate(t models.StrategyType) (models.MitigationStrategy, error) {
	tmpl, ok := strategyTemplates[t]
	if !ok {
		return models.MitigationStrategy{}, fmt.Errorf("no template for strategy %q", t)
	}
	tmpl.ImplementationSteps = append([]string(nil), tmpl.ImplementationSteps...)
	tmpl.MonitoringRequirements = append([]string(nil), tmpl.MonitoringRequirements...)
	return tmpl, nil
}

func environmentOf(assessment *models.RiskAssessmentResult) models.Environment {
	if assessment.BusinessContext == nil {
		return ""
	}
	return assessment.BusinessContext.Environment
}
