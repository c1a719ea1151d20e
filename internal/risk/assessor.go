package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

// Below this overall confidence a human must review regardless of level.
const reviewConfidenceFloor = 0.7

// Assessor runs factor analysis, scoring and cascade prediction for one change
type Assessor struct {
	analyzer   *FactorAnalyzer
	calculator *Calculator
	predictor  *CascadePredictor
	logger     *logrus.Logger
	now        func() time.Time
}

// NewAssessor creates an assessor with default components
func NewAssessor(logger *logrus.Logger, config *Config) *Assessor {
	if logger == nil {
		logger = discardLogger()
	}
	return &Assessor{
		analyzer:   NewFactorAnalyzer(),
		calculator: NewCalculator(logger, config),
		predictor:  NewCascadePredictor(),
		logger:     logger,
		now:        time.Now,
	}
}

// Assess derives factors from the input and produces the risk verdict
func (a *Assessor) Assess(ctx context.Context, in *models.AssessmentInput) (*models.RiskAssessmentResult, error) {
	if in == nil {
		return nil, fmt.Errorf("assessment input is nil")
	}
	return a.AssessFromFactors(ctx, in, a.analyzer.Analyze(in))
}

// AssessFromFactors produces the verdict from an already computed factor list
func (a *Assessor) AssessFromFactors(ctx context.Context, in *models.AssessmentInput, factors []models.RiskFactor) (*models.RiskAssessmentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, fmt.Errorf("assessment input is nil")
	}

	score, err := a.calculator.Calculate(factors)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate risk score: %w", err)
	}
	level := a.calculator.LevelForScore(score)
	cascade := a.predictor.Predict(in, factors)
	domain := ClassifyDomain(in.FilePath, in.BusinessContext)
	confidence := overallConfidence(factors)

	result := &models.RiskAssessmentResult{
		FilePath:        in.FilePath,
		Score:           score,
		Level:           level,
		Factors:         append([]models.RiskFactor{}, factors...),
		CascadeType:     cascade.Type,
		CascadeEffects:  cascade.Effects,
		BusinessDomain:  domain,
		BusinessImpact:  BusinessImpact(level, domain, len(cascade.Effects)),
		Confidence:      confidence,
		BusinessContext: in.BusinessContext,
		AssessedAt:      a.now(),
	}
	result.RequiresVerification = level != models.RiskLevelLow || len(cascade.Effects) > 0
	result.RequiresHumanReview = level == models.RiskLevelCritical ||
		(level == models.RiskLevelHigh && len(cascade.Effects) > 2) ||
		confidence < reviewConfidenceFloor

	a.logger.WithFields(logrus.Fields{
		"file":       in.FilePath,
		"score":      score,
		"level":      level,
		"cascade":    cascade.Type,
		"effects":    len(cascade.Effects),
		"confidence": confidence,
	}).Info("Risk assessment completed")

	return result, nil
}

// overallConfidence is the mean factor confidence; no factors means nothing
// is uncertain.
func overallConfidence(factors []models.RiskFactor) float64 {
	if len(factors) == 0 {
		return 1.0
	}
	total := 0.0
	for _, f := range factors {
		total += f.Confidence
	}
	return total / float64(len(factors))
}
