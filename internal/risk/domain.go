package risk

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/crisk-verify/internal/models"
)

// domainKeywords is evaluated first-match-wins, against the business context
// domain when supplied and otherwise against the file path.
var domainKeywords = []struct {
	domain   models.BusinessDomain
	keywords []string
}{
	{models.DomainAuthentication, []string{"auth", "login", "session", "permission"}},
	{models.DomainPayment, []string{"payment", "billing", "checkout", "invoice"}},
	{models.DomainAPI, []string{"api", "endpoint", "route", "controller"}},
	{models.DomainData, []string{"data", "database", "model", "store", "repository"}},
	{models.DomainUI, []string{"ui", "component", "view", "page", "frontend"}},
	{models.DomainUtility, []string{"util", "helper", "lib"}},
}

// ClassifyDomain returns the business domain of a change
func ClassifyDomain(filePath string, bc *models.BusinessContext) models.BusinessDomain {
	if bc != nil && strings.TrimSpace(bc.Domain) != "" {
		if d := matchDomain(strings.ToLower(bc.Domain)); d != "" {
			return d
		}
	}

	segments := strings.FieldsFunc(strings.ToLower(filePath), func(r rune) bool {
		return r == '/' || r == '\\' || r == '.' || r == '-' || r == '_'
	})
	for _, seg := range segments {
		if d := matchDomain(seg); d != "" {
			return d
		}
	}
	return models.DomainGeneral
}

func matchDomain(s string) models.BusinessDomain {
	for _, entry := range domainKeywords {
		for _, kw := range entry.keywords {
			if s == kw || strings.HasPrefix(s, kw) {
				return entry.domain
			}
		}
	}
	return ""
}

// BusinessImpact renders the narrative impact statement. Wording is
// informational only.
func BusinessImpact(level models.RiskLevel, domain models.BusinessDomain, effects int) string {
	area := strings.ToLower(string(domain))
	switch level {
	case models.RiskLevelCritical:
		return fmt.Sprintf("Critical impact on %s functionality: failures are likely user-visible and %d propagation paths were predicted.", area, effects)
	case models.RiskLevelHigh:
		return fmt.Sprintf("High impact on %s functionality: regressions may reach dependent features through %d propagation paths.", area, effects)
	case models.RiskLevelMedium:
		return fmt.Sprintf("Moderate impact on %s functionality: localized regressions are possible.", area)
	default:
		return fmt.Sprintf("Low impact on %s functionality.", area)
	}
}
