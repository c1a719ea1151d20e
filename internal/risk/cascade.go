package risk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

// An indicator category reaching this value is considered strong.
const highIndicatorThreshold = 2

const maxAffectedComponents = 10

// cascadeRule describes one propagation mechanism. Rules are listed in
// tie-break priority order.
type cascadeRule struct {
	cascadeType           models.CascadeType
	contentSignals        []string
	transformationSignals []string
	severityOffset        float64
	mitigationComplexity  float64
	componentPatterns     []*regexp.Regexp
	prediction            string
}

var cascadeRules = []cascadeRule{
	{
		cascadeType:           models.CascadeTypeInference,
		contentSignals:        []string{": any", "as any", "interface ", " extends "},
		transformationSignals: []string{"type", "any"},
		severityOffset:        0.10,
		mitigationComplexity:  0.4,
		componentPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:interface|type|class|enum)\s+([A-Z][A-Za-z0-9_]*)`),
		},
		prediction: "type changes may alter inferred types in consumers of %s",
	},
	{
		cascadeType:           models.CascadeModuleBoundary,
		contentSignals:        []string{"import ", "export ", "require(", "module.exports"},
		transformationSignals: []string{"import", "module", "export"},
		severityOffset:        0.15,
		mitigationComplexity:  0.6,
		componentPatterns: []*regexp.Regexp{
			regexp.MustCompile(`from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		},
		prediction: "module boundary changes may break importers of %s",
	},
	{
		cascadeType:           models.CascadeAsyncBoundary,
		contentSignals:        []string{"async ", "await ", "Promise", ".then("},
		transformationSignals: []string{"async", "promise"},
		severityOffset:        0.20,
		mitigationComplexity:  0.7,
		componentPatterns: []*regexp.Regexp{
			regexp.MustCompile(`async\s+function\s+([A-Za-z_$][\w$]*)`),
			regexp.MustCompile(`(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*async\b`),
		},
		prediction: "async boundary changes may reorder side effects for callers of %s",
	},
	{
		cascadeType:           models.CascadeFrameworkContract,
		contentSignals:        []string{"useState", "useEffect", "props", "React."},
		transformationSignals: []string{"react", "component", "hook", "jsx"},
		severityOffset:        0.10,
		mitigationComplexity:  0.5,
		componentPatterns: []*regexp.Regexp{
			regexp.MustCompile(`<([A-Z][A-Za-z0-9_]*)`),
			regexp.MustCompile(`function\s+([A-Z][A-Za-z0-9_]*)\s*\(`),
		},
		prediction: "framework contract changes may affect components rendering %s",
	},
}

// CascadePrediction is the output of the cascade predictor
type CascadePrediction struct {
	Type       models.CascadeType
	Effects    []models.CascadeEffect
	Indicators map[models.CascadeType]int
}

// CascadePredictor classifies how risk propagates and predicts affected components
type CascadePredictor struct {
	rules []cascadeRule
}

// NewCascadePredictor creates a predictor with the default rule table
func NewCascadePredictor() *CascadePredictor {
	return &CascadePredictor{rules: cascadeRules}
}

// Indicators accumulates one counter per cascade category
func (p *CascadePredictor) Indicators(in *models.AssessmentInput) map[models.CascadeType]int {
	counts := make(map[models.CascadeType]int, len(p.rules))
	for _, rule := range p.rules {
		n := 0
		for _, s := range rule.contentSignals {
			if strings.Contains(in.Content, s) {
				n++
			}
		}
		n += countTransformations(in.Transformations, rule.transformationSignals...)
		counts[rule.cascadeType] = n
	}
	return counts
}

// Predict determines the cascade type and one effect per propagating mechanism.
// No effects are produced when there are no risk factors or no indicators.
func (p *CascadePredictor) Predict(in *models.AssessmentInput, factors []models.RiskFactor) *CascadePrediction {
	indicators := p.Indicators(in)

	var strong []cascadeRule
	for _, rule := range p.rules {
		if indicators[rule.cascadeType] >= highIndicatorThreshold {
			strong = append(strong, rule)
		}
	}

	prediction := &CascadePrediction{Indicators: indicators}
	var active []cascadeRule
	if len(strong) > 1 {
		prediction.Type = models.CascadeCompoundInteraction
		active = strong
	} else {
		winner := p.rules[0]
		for _, rule := range p.rules[1:] {
			if indicators[rule.cascadeType] > indicators[winner.cascadeType] {
				winner = rule
			}
		}
		prediction.Type = winner.cascadeType
		active = []cascadeRule{winner}
	}

	// nothing propagates without factors or without a single indicator
	if len(factors) == 0 || indicators[active[0].cascadeType] == 0 {
		prediction.Effects = []models.CascadeEffect{}
		return prediction
	}

	base := baseSeverity(factors)
	effects := make([]models.CascadeEffect, 0, len(active))
	for _, rule := range active {
		components := extractComponents(in, rule.componentPatterns)
		text := fmt.Sprintf(rule.prediction, strings.Join(components, ", "))
		if prediction.Type == models.CascadeCompoundInteraction {
			text += "; interacts with other strong propagation signals"
		}
		effects = append(effects, models.CascadeEffect{
			Type:                 rule.cascadeType,
			Severity:             clamp01(base + rule.severityOffset),
			AffectedComponents:   components,
			Prediction:           text,
			MitigationComplexity: rule.mitigationComplexity,
		})
	}
	prediction.Effects = effects
	return prediction
}

// baseSeverity is the largest weight·value product across factors
func baseSeverity(factors []models.RiskFactor) float64 {
	base := 0.0
	for _, f := range factors {
		if s := f.Weight * f.Value; s > base {
			base = s
		}
	}
	return base
}

// extractComponents returns identifiers matched by the patterns in first-seen
// order, falling back to the file path itself.
func extractComponents(in *models.AssessmentInput, patterns []*regexp.Regexp) []string {
	seen := make(map[string]struct{})
	var components []string
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(in.Content, -1) {
			name := m[1]
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			components = append(components, name)
			if len(components) == maxAffectedComponents {
				return components
			}
		}
	}
	if len(components) == 0 && in.FilePath != "" {
		components = []string{in.FilePath}
	}
	return components
}
