package scoring

import "etica/internal/domain"

// Weights used when a value is not one of the known constants.
const (
	defaultDecisionWeight    = 0.5
	defaultScaleWeight       = 0.5
	defaultSensitivityWeight = 0.5
	defaultDomainSensitivity = 0.3
)

var decisionTypeWeights = map[domain.DecisionType]float64{
	domain.DecisionInformative:    0.1,
	domain.DecisionRecommendation: 0.4,
	domain.DecisionAssisted:       0.7,
	domain.DecisionAuto:           1.0,
}

var scaleWeights = map[domain.UserScale]float64{
	domain.ScaleTiny:      0.1,
	domain.ScaleSmall:     0.3,
	domain.ScaleMedium:    0.5,
	domain.ScaleLarge:     0.8,
	domain.ScaleVeryLarge: 1.0,
}

var sensitivityWeights = map[domain.Sensitivity]float64{
	domain.SensitivityStandard:        0.3,
	domain.SensitivitySensitive:       0.7,
	domain.SensitivityHighlySensitive: 1.0,
}

var domainDecisionSensitivity = map[domain.EthicalDomain]float64{
	domain.DomainRecourse:        1.0,
	domain.DomainAutonomy:        1.0,
	domain.DomainEquity:          0.8,
	domain.DomainTransparency:    0.8,
	domain.DomainResponsibility:  0.7,
	domain.DomainMastery:         0.6,
	domain.DomainPrivacy:         0.5,
	domain.DomainLoyalty:         0.5,
	domain.DomainSocietalBalance: 0.5,
	domain.DomainSecurity:        0.4,
	domain.DomainSovereignty:     0.3,
	domain.DomainSustainability:  0.2,
}

var natureDomains = map[domain.Nature][]domain.EthicalDomain{
	domain.NatureCollect:        {domain.DomainPrivacy, domain.DomainSecurity, domain.DomainSovereignty},
	domain.NatureInference:      {domain.DomainPrivacy, domain.DomainEquity, domain.DomainTransparency},
	domain.NatureEnrichment:     {domain.DomainPrivacy, domain.DomainLoyalty},
	domain.NatureDecision:       {domain.DomainAutonomy, domain.DomainRecourse, domain.DomainTransparency, domain.DomainEquity, domain.DomainResponsibility},
	domain.NatureRecommendation: {domain.DomainAutonomy, domain.DomainTransparency, domain.DomainLoyalty, domain.DomainSocietalBalance},
	domain.NatureNotification:   {domain.DomainTransparency, domain.DomainLoyalty},
	domain.NatureLearning:       {domain.DomainPrivacy, domain.DomainEquity, domain.DomainSustainability, domain.DomainMastery},
	domain.NatureControl:        {domain.DomainMastery, domain.DomainResponsibility, domain.DomainAutonomy},
	domain.NatureTransfer:       {domain.DomainSovereignty, domain.DomainPrivacy, domain.DomainSecurity},
	domain.NatureStorage:        {domain.DomainSecurity, domain.DomainSovereignty, domain.DomainSustainability},
}

type dimensionWeight struct {
	dim    domain.Dimension
	weight float64
}

// Slices rather than maps so floating point sums always run in the same order.
var profileWeights = map[domain.EthicalDomain][]dimensionWeight{
	domain.DomainTransparency:    {{domain.DimOpacity, 0.6}, {domain.DimAsymmetry, 0.4}},
	domain.DomainAutonomy:        {{domain.DimAgentivity, 0.5}, {domain.DimAsymmetry, 0.3}, {domain.DimOpacity, 0.2}},
	domain.DomainRecourse:        {{domain.DimIrreversibility, 0.6}, {domain.DimAgentivity, 0.4}},
	domain.DomainEquity:          {{domain.DimScalability, 0.5}, {domain.DimAsymmetry, 0.5}},
	domain.DomainPrivacy:         {{domain.DimAsymmetry, 0.5}, {domain.DimScalability, 0.3}, {domain.DimOpacity, 0.2}},
	domain.DomainSecurity:        {{domain.DimScalability, 0.5}, {domain.DimIrreversibility, 0.5}},
	domain.DomainMastery:         {{domain.DimAgentivity, 0.6}, {domain.DimOpacity, 0.4}},
	domain.DomainResponsibility:  {{domain.DimAgentivity, 0.5}, {domain.DimIrreversibility, 0.5}},
	domain.DomainSovereignty:     {{domain.DimAsymmetry, 0.6}, {domain.DimScalability, 0.4}},
	domain.DomainSustainability:  {{domain.DimScalability, 1.0}},
	domain.DomainLoyalty:         {{domain.DimAsymmetry, 0.6}, {domain.DimOpacity, 0.4}},
	domain.DomainSocietalBalance: {{domain.DimScalability, 0.6}, {domain.DimIrreversibility, 0.4}},
}

// DecisionTypeWeight grows with the automation of the decision type.
func DecisionTypeWeight(d domain.DecisionType) float64 {
	if w, ok := decisionTypeWeights[d]; ok {
		return w
	}
	return defaultDecisionWeight
}

func ScaleWeight(s domain.UserScale) float64 {
	if w, ok := scaleWeights[s]; ok {
		return w
	}
	return defaultScaleWeight
}

// SensitivityWeight is zero for a flow whose sensitivity was never qualified.
func SensitivityWeight(s domain.Sensitivity) float64 {
	if s == "" {
		return 0
	}
	if w, ok := sensitivityWeights[s]; ok {
		return w
	}
	return defaultSensitivityWeight
}

func DomainDecisionSensitivity(d domain.EthicalDomain) float64 {
	if w, ok := domainDecisionSensitivity[d]; ok {
		return w
	}
	return defaultDomainSensitivity
}

// NatureDomains returns the ethical domains a flow of the given nature touches.
// Unknown natures touch none.
func NatureDomains(n domain.Nature) []domain.EthicalDomain {
	return append([]domain.EthicalDomain(nil), natureDomains[n]...)
}

func touches(n domain.Nature, d domain.EthicalDomain) bool {
	for _, x := range natureDomains[n] {
		if x == d {
			return true
		}
	}
	return false
}

// EdgeProfileScore is the weighted mean of the dimensions d cares about,
// rescaled from [1,5] to [0,1]. Unqualified dimensions are left out of both
// sums; an edge with none of them scores 0.
func EdgeProfileScore(e domain.Edge, d domain.EthicalDomain) float64 {
	var sum, total float64
	for _, dw := range profileWeights[d] {
		v, ok := e.Dimension(dw.dim)
		if !ok {
			continue
		}
		sum += dw.weight * float64(v)
		total += dw.weight
	}
	if total == 0 {
		return 0
	}
	return (sum/total - domain.MinDimension) / (domain.MaxDimension - domain.MinDimension)
}
