package verification

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/errors"
	"github.com/rohankatakam/crisk-verify/internal/models"
)

// StepProvider produces verification steps for an assessment
type StepProvider interface {
	Generate(ctx context.Context, assessment *models.RiskAssessmentResult) ([]models.VerificationStep, error)
}

// StrategyProvider selects a mitigation strategy for an assessment
type StrategyProvider interface {
	Select(ctx context.Context, assessment *models.RiskAssessmentResult) (models.MitigationStrategy, error)
}

// ReviewProvider derives the review requirement for an assessment
type ReviewProvider interface {
	Analyze(ctx context.Context, assessment *models.RiskAssessmentResult) (models.ReviewRequirement, error)
}

// Planner composes steps, strategy and review into one verification plan
type Planner struct {
	steps    StepProvider
	strategy StrategyProvider
	review   ReviewProvider
	logger   *logrus.Logger
	now      func() time.Time
}

// PlannerOption customizes a Planner
type PlannerOption func(*Planner)

// WithStepProvider replaces the default step generator
func WithStepProvider(p StepProvider) PlannerOption {
	return func(pl *Planner) { pl.steps = p }
}

// WithStrategyProvider replaces the default strategy selector
func WithStrategyProvider(p StrategyProvider) PlannerOption {
	return func(pl *Planner) { pl.strategy = p }
}

// WithReviewProvider replaces the default review analyzer
func WithReviewProvider(p ReviewProvider) PlannerOption {
	return func(pl *Planner) { pl.review = p }
}

// NewPlanner creates a planner backed by the default generators
func NewPlanner(logger *logrus.Logger, limits StepLimits, opts ...PlannerOption) *Planner {
	if logger == nil {
		logger = discardLogger()
	}
	p := &Planner{
		steps:    NewStepGenerator(logger, limits),
		strategy: NewStrategySelector(logger),
		review:   NewReviewAnalyzer(logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate builds the plan. A failing sub-generator aborts the whole plan and
// its error is returned as is; plain errors are tagged GENERATION_ERROR.
func (p *Planner) Generate(ctx context.Context, assessment *models.RiskAssessmentResult) (*models.VerificationPlan, error) {
	steps, err := p.steps.Generate(ctx, assessment)
	if err != nil {
		return nil, generationFailure(err, "verification steps")
	}
	strategy, err := p.strategy.Select(ctx, assessment)
	if err != nil {
		return nil, generationFailure(err, "mitigation strategy")
	}
	review, err := p.review.Analyze(ctx, assessment)
	if err != nil {
		return nil, generationFailure(err, "review requirement")
	}

	minutes, automatable := 0, 0
	for _, s := range steps {
		minutes += s.EstimatedMinutes
		if s.Automatable {
			automatable++
		}
	}
	ratio := 0.0
	if len(steps) > 0 {
		ratio = float64(automatable) / float64(len(steps))
	}

	plan := &models.VerificationPlan{
		Steps:          steps,
		Strategy:       strategy,
		Review:         review,
		EstimatedHours: math.Ceil(float64(minutes)/60 + strategy.TimeToImplementHours + review.EstimatedHours),
		Confidence:     math.Min(1.0, assessment.Confidence*(0.7+0.3*ratio)),
		Assessment:     assessment,
		GeneratedAt:    p.now(),
	}

	p.logger.WithFields(logrus.Fields{
		"file":       assessment.FilePath,
		"steps":      len(steps),
		"strategy":   strategy.Type,
		"review":     review.Required,
		"hours":      plan.EstimatedHours,
		"confidence": plan.Confidence,
	}).Info("Verification plan generated")

	return plan, nil
}

func generationFailure(err error, generator string) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.GenerationError(err, generator)
}
