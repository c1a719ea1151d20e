package risk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

// Factor weights and confidences. These are tunable defaults, not business rules.
const (
	asyncWeight          = 0.20
	asyncConfidence      = 0.80
	typeSafetyWeight     = 0.25
	typeSafetyConfidence = 0.85
	structuralWeight     = 0.15
	structuralConfidence = 0.75
	externalWeight       = 0.15
	externalConfidence   = 0.70
	businessWeight       = 0.25
	businessExplicitConf = 0.90
	businessHeuristic    = 0.70
	volumeWeight         = 0.10
	volumeConfidence     = 0.90
	patternWeight        = 0.10
	patternConfidence    = 0.70

	// structural value saturates at this JSX nesting depth
	maxMeaningfulDepth = 10.0
	// volume value saturates at this many applied transformations
	volumeSaturation = 50.0
	// pattern value saturates at this many distinct patterns
	patternSaturation = 10.0
)

// keywordSignal is one substring whose presence contributes to a factor value
type keywordSignal struct {
	keyword      string
	contribution float64
}

var asyncSignals = []keywordSignal{
	{"async ", 0.25},
	{"await ", 0.25},
	{"Promise", 0.20},
	{".then(", 0.20},
	{"setTimeout(", 0.10},
	{"useEffect(", 0.15},
}

var typeSafetySignals = []keywordSignal{
	{": any", 0.30},
	{"as any", 0.30},
	{"<any>", 0.20},
	{"@ts-ignore", 0.25},
	{"@ts-expect-error", 0.20},
	{"as unknown as", 0.25},
}

var externalSignals = []keywordSignal{
	{"fetch(", 0.30},
	{"axios", 0.30},
	{"XMLHttpRequest", 0.30},
	{"WebSocket", 0.30},
	{"localStorage", 0.20},
	{"sessionStorage", 0.20},
	{"process.env", 0.15},
}

// pathCriticality is evaluated first-match-wins against the normalized file path
var pathCriticality = []struct {
	segment string
	value   float64
}{
	{"/auth/", 0.8},
	{"/api/", 0.7},
	{"/component/", 0.5},
	{"/util/", 0.4},
}

const defaultPathCriticality = 0.2

var tagPattern = regexp.MustCompile(`<(/?)([A-Za-z][\w.]*)[^<>]*?(/?)>`)

// factorSpec binds a factor type to its fixed weight and its scoring function.
// score returns the raw value, an optional confidence override (0 keeps the
// default), and a description.
type factorSpec struct {
	factorType models.RiskFactorType
	weight     float64
	confidence float64
	score      func(in *models.AssessmentInput) (float64, float64, string)
}

// FactorAnalyzer derives independent weighted risk signals from a change
type FactorAnalyzer struct {
	specs []factorSpec
}

// NewFactorAnalyzer creates an analyzer with the default factor table
func NewFactorAnalyzer() *FactorAnalyzer {
	return &FactorAnalyzer{
		specs: []factorSpec{
			{models.FactorAsyncComplexity, asyncWeight, asyncConfidence, scoreAsync},
			{models.FactorTypeSafety, typeSafetyWeight, typeSafetyConfidence, scoreTypeSafety},
			{models.FactorStructuralComplexity, structuralWeight, structuralConfidence, scoreStructural},
			{models.FactorExternalDependency, externalWeight, externalConfidence, scoreExternal},
			{models.FactorBusinessCriticality, businessWeight, businessHeuristic, scoreBusinessCriticality},
			{models.FactorTransformationVolume, volumeWeight, volumeConfidence, scoreVolume},
			{models.FactorPatternComplexity, patternWeight, patternConfidence, scorePatterns},
		},
	}
}

// Analyze returns the factors present in the input. Factors whose value is 0
// are dropped; every reported value and confidence lies in [0,1].
func (a *FactorAnalyzer) Analyze(in *models.AssessmentInput) []models.RiskFactor {
	if in == nil {
		return nil
	}

	factors := make([]models.RiskFactor, 0, len(a.specs))
	for _, spec := range a.specs {
		value, confidence, description := spec.score(in)
		value = clamp01(value)
		if value == 0 {
			continue
		}
		if confidence == 0 {
			confidence = spec.confidence
		}
		factors = append(factors, models.RiskFactor{
			Type:        spec.factorType,
			Weight:      spec.weight,
			Value:       value,
			Confidence:  clamp01(confidence),
			Description: description,
		})
	}
	return factors
}

func scoreAsync(in *models.AssessmentInput) (float64, float64, string) {
	value, hits := sumSignals(in.Content, asyncSignals)
	matched := countTransformations(in.Transformations, "async", "promise")
	value += 0.2 * float64(matched)
	return value, 0, fmt.Sprintf("%d async idioms, %d async transformations", hits, matched)
}

func scoreTypeSafety(in *models.AssessmentInput) (float64, float64, string) {
	value, hits := sumSignals(in.Content, typeSafetySignals)
	matched := countTransformations(in.Transformations, "type", "any")
	value += 0.15 * float64(matched)
	return value, 0, fmt.Sprintf("%d unsafe type idioms, %d type transformations", hits, matched)
}

func scoreStructural(in *models.AssessmentInput) (float64, float64, string) {
	depth := MaxTagDepth(in.Content)
	return float64(depth) / maxMeaningfulDepth, 0, fmt.Sprintf("maximum tag nesting depth %d", depth)
}

func scoreExternal(in *models.AssessmentInput) (float64, float64, string) {
	value, hits := sumSignals(in.Content, externalSignals)
	matched := countTransformations(in.Transformations, "api", "http", "fetch")
	value += 0.15 * float64(matched)
	return value, 0, fmt.Sprintf("%d external I/O calls, %d I/O transformations", hits, matched)
}

func scoreBusinessCriticality(in *models.AssessmentInput) (float64, float64, string) {
	if bc := in.BusinessContext; bc != nil && bc.Criticality != nil {
		return *bc.Criticality, businessExplicitConf, "criticality supplied by business context"
	}
	value := PathCriticality(in.FilePath)
	return value, businessHeuristic, fmt.Sprintf("criticality %.1f inferred from path", value)
}

func scoreVolume(in *models.AssessmentInput) (float64, float64, string) {
	total := 0
	for _, t := range in.Transformations {
		if t.Count > 0 {
			total += t.Count
		}
	}
	return float64(total) / volumeSaturation, 0, fmt.Sprintf("%d transformations applied", total)
}

func scorePatterns(in *models.AssessmentInput) (float64, float64, string) {
	distinct := make(map[string]struct{})
	for _, t := range in.Transformations {
		for _, p := range t.Patterns {
			if p = strings.TrimSpace(p); p != "" {
				distinct[p] = struct{}{}
			}
		}
	}
	return float64(len(distinct)) / patternSaturation, 0, fmt.Sprintf("%d distinct patterns", len(distinct))
}

// PathCriticality is the fallback criticality heuristic used when no explicit
// business context is supplied.
func PathCriticality(filePath string) float64 {
	normalized := "/" + strings.ToLower(strings.ReplaceAll(filePath, "\\", "/"))
	for _, rule := range pathCriticality {
		if strings.Contains(normalized, rule.segment) {
			return rule.value
		}
	}
	return defaultPathCriticality
}

// MaxTagDepth scans paired <x>/</x> tags and returns the deepest nesting seen.
// Self-closing tags count for one level without opening a scope.
func MaxTagDepth(content string) int {
	depth, maxDepth := 0, 0
	for _, m := range tagPattern.FindAllStringSubmatch(content, -1) {
		closing, selfClosing := m[1] == "/", m[3] == "/"
		switch {
		case closing:
			if depth > 0 {
				depth--
			}
		case selfClosing:
			if depth+1 > maxDepth {
				maxDepth = depth + 1
			}
		default:
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		}
	}
	return maxDepth
}

func sumSignals(content string, signals []keywordSignal) (float64, int) {
	total, hits := 0.0, 0
	for _, s := range signals {
		if strings.Contains(content, s.keyword) {
			total += s.contribution
			hits++
		}
	}
	return total, hits
}

// countTransformations counts transformations whose type or any pattern
// contains one of the needles, case-insensitively.
func countTransformations(transformations []models.Transformation, needles ...string) int {
	count := 0
	for _, t := range transformations {
		if transformationMatches(t, needles...) {
			count++
		}
	}
	return count
}

func transformationMatches(t models.Transformation, needles ...string) bool {
	haystacks := append([]string{t.Type}, t.Patterns...)
	for _, h := range haystacks {
		h = strings.ToLower(h)
		for _, n := range needles {
			if strings.Contains(h, n) {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
