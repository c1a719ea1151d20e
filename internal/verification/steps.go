package verification

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

const compileStepID = "compile-check"

// StepLimits caps the number of steps in a plan per risk level
type StepLimits struct {
	Critical int `mapstructure:"critical" yaml:"critical"`
	High     int `mapstructure:"high" yaml:"high"`
	Medium   int `mapstructure:"medium" yaml:"medium"`
	Low      int `mapstructure:"low" yaml:"low"`
}

// DefaultStepLimits returns the default caps
func DefaultStepLimits() StepLimits {
	return StepLimits{Critical: 20, High: 15, Medium: 10, Low: 7}
}

// For returns the cap for a level. Unknown levels get the LOW cap.
func (l StepLimits) For(level models.RiskLevel) int {
	switch level {
	case models.RiskLevelCritical:
		return l.Critical
	case models.RiskLevelHigh:
		return l.High
	case models.RiskLevelMedium:
		return l.Medium
	default:
		return l.Low
	}
}

// stepTemplate is a static verification step that applies from minLevel upward
type stepTemplate struct {
	minLevel models.RiskLevel
	step     models.VerificationStep
}

var compileStep = models.VerificationStep{
	ID:               compileStepID,
	Description:      "Compile the project and confirm there are no type errors",
	Category:         models.StepCategoryCompilation,
	Priority:         models.PriorityCritical,
	EstimatedMinutes: 5,
	Automatable:      true,
	SuccessCriteria:  []string{"build exits with status 0", "no new type errors reported"},
	RequiredTools:    []string{"tsc"},
}

// domainSteps grow in number and priority as the risk level rises. Nothing is
// added at LOW.
var domainSteps = map[models.BusinessDomain][]stepTemplate{
	models.DomainAuthentication: {
		{models.RiskLevelMedium, step("auth-login-flow", "Exercise login and logout flows end to end", models.StepCategoryEndToEnd, models.PriorityHigh, 20, true, "all authentication scenarios pass")},
		{models.RiskLevelHigh, step("auth-session", "Verify session creation, refresh and expiry behaviour", models.StepCategoryIntegration, models.PriorityCritical, 30, true, "sessions expire and refresh as configured")},
		{models.RiskLevelCritical, step("auth-permissions", "Review permission checks on every protected route", models.StepCategoryManual, models.PriorityCritical, 45, false, "no route is reachable without the required role")},
	},
	models.DomainPayment: {
		{models.RiskLevelMedium, step("payment-sandbox", "Run a payment through the provider sandbox", models.StepCategoryIntegration, models.PriorityHigh, 20, true, "sandbox transaction settles")},
		{models.RiskLevelHigh, step("payment-amounts", "Verify amount, currency and rounding on every checkout path", models.StepCategoryUnit, models.PriorityCritical, 30, true, "totals match reference values to the cent")},
		{models.RiskLevelCritical, step("payment-reconcile", "Reconcile test transactions against the ledger", models.StepCategoryManual, models.PriorityCritical, 60, false, "ledger and provider records agree")},
	},
	models.DomainAPI: {
		{models.RiskLevelMedium, step("api-contract", "Run API contract tests against the changed endpoints", models.StepCategoryIntegration, models.PriorityHigh, 15, true, "responses match the published schema")},
		{models.RiskLevelHigh, step("api-errors", "Verify error status codes and payloads are unchanged", models.StepCategoryIntegration, models.PriorityHigh, 20, true, "error responses match previous release")},
		{models.RiskLevelCritical, step("api-load", "Load test the changed endpoints at peak traffic", models.StepCategoryPerformance, models.PriorityHigh, 45, true, "p95 latency within budget")},
	},
	models.DomainData: {
		{models.RiskLevelMedium, step("data-roundtrip", "Verify records round-trip through the changed data layer", models.StepCategoryUnit, models.PriorityHigh, 15, true, "read-after-write returns identical records")},
		{models.RiskLevelHigh, step("data-migration", "Run data access tests against a production-like snapshot", models.StepCategoryIntegration, models.PriorityCritical, 40, true, "no query errors or data loss")},
		{models.RiskLevelCritical, step("data-backup", "Confirm a restorable backup exists before deploy", models.StepCategoryManual, models.PriorityCritical, 20, false, "restore rehearsed successfully")},
	},
	models.DomainUI: {
		{models.RiskLevelMedium, step("ui-render", "Render the changed components in every supported state", models.StepCategoryUnit, models.PriorityMedium, 15, true, "snapshot and interaction tests pass")},
		{models.RiskLevelHigh, step("ui-visual", "Compare screenshots of affected pages against baseline", models.StepCategoryEndToEnd, models.PriorityMedium, 20, true, "no unexpected visual diffs")},
		{models.RiskLevelCritical, step("ui-accessibility", "Manually check keyboard navigation and screen reader output", models.StepCategoryManual, models.PriorityHigh, 30, false, "no accessibility regressions")},
	},
	models.DomainUtility: {
		{models.RiskLevelMedium, step("util-callers", "Run unit tests of all callers of the changed helpers", models.StepCategoryUnit, models.PriorityMedium, 10, true, "caller tests pass")},
		{models.RiskLevelHigh, step("util-edge", "Add edge case tests for empty, null and boundary inputs", models.StepCategoryUnit, models.PriorityMedium, 20, true, "edge cases covered")},
	},
	models.DomainGeneral: {
		{models.RiskLevelMedium, step("general-smoke", "Smoke test the features touching the changed file", models.StepCategoryEndToEnd, models.PriorityMedium, 15, false, "features behave as before")},
	},
}

var cascadeSteps = map[models.CascadeType][]models.VerificationStep{
	models.CascadeTypeInference: {
		step("cascade-types", "Type check every consumer of the changed declarations", models.StepCategoryCompilation, models.PriorityHigh, 10, true, "consumers compile without casts"),
	},
	models.CascadeModuleBoundary: {
		step("cascade-imports", "Verify all importers resolve the changed exports", models.StepCategoryCompilation, models.PriorityHigh, 10, true, "no unresolved imports"),
		step("cascade-bundle", "Build the production bundle and check for missing modules", models.StepCategoryIntegration, models.PriorityMedium, 15, true, "bundle builds"),
	},
	models.CascadeAsyncBoundary: {
		step("cascade-async-order", "Test ordering of side effects across the changed async calls", models.StepCategoryIntegration, models.PriorityHigh, 25, true, "effects observed in expected order"),
		step("cascade-async-errors", "Verify rejected promises are handled by every caller", models.StepCategoryUnit, models.PriorityHigh, 15, true, "no unhandled rejections"),
	},
	models.CascadeFrameworkContract: {
		step("cascade-framework", "Test components that depend on the changed hooks or props", models.StepCategoryUnit, models.PriorityHigh, 20, true, "dependent component tests pass"),
	},
	models.CascadeCompoundInteraction: {
		step("cascade-compound", "Run the full regression suite to catch interacting failures", models.StepCategoryIntegration, models.PriorityCritical, 45, true, "full suite passes"),
		step("cascade-compound-review", "Walk through interacting propagation paths with the change author", models.StepCategoryManual, models.PriorityHigh, 30, false, "each path has an owner and a test"),
	},
}

var levelSteps = map[models.RiskLevel][]models.VerificationStep{
	models.RiskLevelMedium: {
		step("level-unit", "Run unit tests for the changed file", models.StepCategoryUnit, models.PriorityMedium, 10, true, "unit tests pass"),
	},
	models.RiskLevelHigh: {
		step("level-unit", "Run unit tests for the changed file", models.StepCategoryUnit, models.PriorityMedium, 10, true, "unit tests pass"),
		step("level-comprehensive", "Run comprehensive testing across unit, integration and end-to-end suites", models.StepCategoryIntegration, models.PriorityHigh, 60, true, "all suites pass"),
	},
	models.RiskLevelCritical: {
		step("level-unit", "Run unit tests for the changed file", models.StepCategoryUnit, models.PriorityMedium, 10, true, "unit tests pass"),
		step("level-comprehensive", "Run comprehensive testing across unit, integration and end-to-end suites", models.StepCategoryIntegration, models.PriorityHigh, 60, true, "all suites pass"),
		step("level-staging", "Deploy to staging and monitor error rates for one hour", models.StepCategoryManual, models.PriorityCritical, 60, false, "error rate unchanged in staging"),
	},
}

var securitySteps = struct {
	accessControl []models.VerificationStep
	sensitiveData []models.VerificationStep
}{
	accessControl: []models.VerificationStep{
		step("security-authz", "Verify authorization checks are preserved on changed code paths", models.StepCategorySecurity, models.PriorityCritical, 30, false, "every protected action still checks permissions"),
		step("security-scan", "Run static security analysis on the changed file", models.StepCategorySecurity, models.PriorityHigh, 10, true, "no new high severity findings"),
	},
	sensitiveData: []models.VerificationStep{
		step("security-data-exposure", "Verify sensitive fields are not logged or returned to clients", models.StepCategorySecurity, models.PriorityCritical, 25, false, "no sensitive data in logs or responses"),
		step("security-scan", "Run static security analysis on the changed file", models.StepCategorySecurity, models.PriorityHigh, 10, true, "no new high severity findings"),
	},
}

func step(id, description string, category models.StepCategory, priority models.Priority, minutes int, automatable bool, criteria ...string) models.VerificationStep {
	return models.VerificationStep{
		ID:               id,
		Description:      description,
		Category:         category,
		Priority:         priority,
		EstimatedMinutes: minutes,
		Automatable:      automatable,
		Dependencies:     []string{compileStepID},
		SuccessCriteria:  criteria,
	}
}

// StepGenerator produces the ordered verification checklist for an assessment
type StepGenerator struct {
	limits StepLimits
	logger *logrus.Logger
}

// NewStepGenerator creates a step generator. Zero limits fall back to defaults.
func NewStepGenerator(logger *logrus.Logger, limits StepLimits) *StepGenerator {
	if limits == (StepLimits{}) {
		limits = DefaultStepLimits()
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &StepGenerator{limits: limits, logger: logger}
}

// Generate unions the rule sets, deduplicates by description, orders by
// priority (automatable first on ties) and truncates to the level cap.
func (g *StepGenerator) Generate(ctx context.Context, assessment *models.RiskAssessmentResult) ([]models.VerificationStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if assessment == nil {
		return nil, fmt.Errorf("risk assessment is nil")
	}
	if !assessment.Level.Valid() {
		return nil, fmt.Errorf("unknown risk level %q", assessment.Level)
	}

	var candidates []models.VerificationStep
	candidates = append(candidates, compileStep)
	candidates = append(candidates, domainStepsFor(assessment.BusinessDomain, assessment.Level)...)
	for _, effect := range assessment.CascadeEffects {
		candidates = append(candidates, cascadeSteps[effect.Type]...)
	}
	if assessment.CascadeType == models.CascadeCompoundInteraction && len(assessment.CascadeEffects) > 0 {
		candidates = append(candidates, cascadeSteps[models.CascadeCompoundInteraction]...)
	}
	candidates = append(candidates, levelSteps[assessment.Level]...)
	if bc := assessment.BusinessContext; bc != nil {
		if bc.AccessControl {
			candidates = append(candidates, securitySteps.accessControl...)
		}
		if bc.HandlesSensitiveData {
			candidates = append(candidates, securitySteps.sensitiveData...)
		}
	}

	steps := dedupe(candidates)
	sort.SliceStable(steps, func(i, j int) bool {
		pi, pj := steps[i].Priority.Rank(), steps[j].Priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return steps[i].Automatable && !steps[j].Automatable
	})

	if limit := g.limits.For(assessment.Level); limit > 0 && len(steps) > limit {
		steps = steps[:limit]
	}

	g.logger.WithFields(logrus.Fields{
		"file":       assessment.FilePath,
		"level":      assessment.Level,
		"candidates": len(candidates),
		"steps":      len(steps),
	}).Debug("verification steps generated")

	return steps, nil
}

func domainStepsFor(domain models.BusinessDomain, level models.RiskLevel) []models.VerificationStep {
	var out []models.VerificationStep
	for _, tmpl := range domainSteps[domain] {
		if level.Rank() >= tmpl.minLevel.Rank() {
			out = append(out, tmpl.step)
		}
	}
	return out
}

// dedupe keeps the first step for each description and deep-copies slices so
// callers cannot alter the rule tables.
func dedupe(candidates []models.VerificationStep) []models.VerificationStep {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]models.VerificationStep, 0, len(candidates))
	for _, s := range candidates {
		if _, ok := seen[s.Description]; ok {
			continue
		}
		seen[s.Description] = struct{}{}
		s.Dependencies = append([]string(nil), s.Dependencies...)
		s.SuccessCriteria = append([]string(nil), s.SuccessCriteria...)
		s.RequiredTools = append([]string(nil), s.RequiredTools...)
		out = append(out, s)
	}
	return out
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
