package risk

import (
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/errors"
	"github.com/rohankatakam/crisk-verify/internal/models"
)

// Calculator reduces risk factors to one normalized score and level
type Calculator struct {
	logger *logrus.Logger
	config *Config
}

// Config holds risk level thresholds on the 0-100 score scale
type Config struct {
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64
}

// DefaultConfig returns default risk configuration
func DefaultConfig() *Config {
	return &Config{
		MediumThreshold:   35,
		HighThreshold:     60,
		CriticalThreshold: 85,
	}
}

// NewCalculator creates a new risk calculator
func NewCalculator(logger *logrus.Logger, config *Config) *Calculator {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Calculator{
		logger: logger,
		config: config,
	}
}

// Calculate computes 100 × Σ(weight·value·confidence) / Σ(weight·confidence),
// rounded to one decimal. An empty factor list scores 0.
func (c *Calculator) Calculate(factors []models.RiskFactor) (float64, error) {
	if len(factors) == 0 {
		return 0, nil
	}

	weighted, normalizer := 0.0, 0.0
	for _, f := range factors {
		weighted += f.Weight * f.Value * f.Confidence
		normalizer += f.Weight * f.Confidence
	}
	if normalizer == 0 {
		return 0, nil
	}

	score := math.Round(100*weighted/normalizer*10) / 10
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 100 {
		return 0, errors.ValidationErrorf("risk score %v outside [0,100]", score)
	}

	c.logger.WithFields(logrus.Fields{
		"factors": len(factors),
		"score":   score,
	}).Debug("risk score calculated")

	return score, nil
}

// LevelForScore maps a score onto its ordinal level
func (c *Calculator) LevelForScore(score float64) models.RiskLevel {
	switch {
	case score >= c.config.CriticalThreshold:
		return models.RiskLevelCritical
	case score >= c.config.HighThreshold:
		return models.RiskLevelHigh
	case score >= c.config.MediumThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
