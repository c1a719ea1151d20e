package verification

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

var focusAreas = map[models.CascadeType]string{
	models.CascadeTypeInference:       "type safety and inference",
	models.CascadeModuleBoundary:      "module exports and import contracts",
	models.CascadeAsyncBoundary:       "async control flow and error propagation",
	models.CascadeFrameworkContract:   "framework hooks and component contracts",
	models.CascadeCompoundInteraction: "interactions between propagation paths",
}

var criticalEscalation = []string{
	"any reviewer raises blocking concerns",
	"security issues identified",
}

// ReviewAnalyzer decides whether human review is mandatory and by whom
type ReviewAnalyzer struct {
	logger *logrus.Logger
}

// NewReviewAnalyzer creates a review analyzer
func NewReviewAnalyzer(logger *logrus.Logger) *ReviewAnalyzer {
	if logger == nil {
		logger = discardLogger()
	}
	return &ReviewAnalyzer{logger: logger}
}

// Analyze returns the review requirement. Review is required only at HIGH and
// CRITICAL.
func (r *ReviewAnalyzer) Analyze(ctx context.Context, assessment *models.RiskAssessmentResult) (models.ReviewRequirement, error) {
	if err := ctx.Err(); err != nil {
		return models.ReviewRequirement{}, err
	}
	if assessment == nil {
		return models.ReviewRequirement{}, fmt.Errorf("risk assessment is nil")
	}
	if !assessment.Level.Valid() {
		return models.ReviewRequirement{}, fmt.Errorf("unknown risk level %q", assessment.Level)
	}

	critical := assessment.Level == models.RiskLevelCritical
	if !critical && assessment.Level != models.RiskLevelHigh {
		return models.ReviewRequirement{
			Reviewers:          []models.ReviewerRole{},
			FocusAreas:         []string{},
			EscalationCriteria: []string{},
		}, nil
	}

	reviewers := []models.ReviewerRole{models.ReviewerSeniorDeveloper}
	if critical {
		reviewers = append(reviewers, models.ReviewerTechLead)
	}

	areas := []string{}
	if area, ok := focusAreas[assessment.CascadeType]; ok {
		areas = append(areas, area)
	}

	base := 2.0
	if critical {
		base = 4.0
	}

	req := models.ReviewRequirement{
		Required:           true,
		Reviewers:          reviewers,
		FocusAreas:         areas,
		EstimatedHours:     math.Ceil(base + 0.5*float64(len(areas))),
		ApprovalThreshold:  approvalThreshold(len(reviewers), critical),
		EscalationCriteria: []string{},
	}
	if critical {
		req.EscalationCriteria = append(req.EscalationCriteria, criticalEscalation...)
	}

	r.logger.WithFields(logrus.Fields{
		"level":     assessment.Level,
		"reviewers": len(req.Reviewers),
		"hours":     req.EstimatedHours,
	}).Debug("review requirement analyzed")

	return req, nil
}

func approvalThreshold(reviewers int, critical bool) int {
	if critical {
		return max(2, int(math.Ceil(0.8*float64(reviewers))))
	}
	return max(1, int(math.Ceil(0.6*float64(reviewers))))
}
