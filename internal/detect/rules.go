package detect

import (
	"strings"

	"etica/internal/domain"
)

type Pattern struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

const (
	PatternAutomationVsRecourse  = "AUTOMATION_VS_RECOURSE"
	PatternVulnerablePopulation  = "VULNERABLE_POPULATION"
	PatternScaleVsEquity         = "SCALE_VS_EQUITY"
	PatternHumanOversight        = "HUMAN_OVERSIGHT"
	PatternSensitiveDataExposure = "SENSITIVE_DATA_EXPOSURE"
	PatternOpacityVsPerformance  = "OPACITY_VS_PERFORMANCE"
	PatternSensitiveInference    = "SENSITIVE_INFERENCE"
	PatternIrreversibility       = "IRREVERSIBILITY"
	PatternPurposeDrift          = "PURPOSE_DRIFT"
	PatternDataSovereignty       = "DATA_SOVEREIGNTY"
	PatternPowerAsymmetry        = "POWER_ASYMMETRY"
	PatternMinorsProtection      = "MINORS_PROTECTION"
	PatternManipulation          = "MANIPULATION"
	PatternFrugality             = "FRUGALITY"
)

var patterns = []Pattern{
	{PatternAutomationVsRecourse, "Automation vs recourse", "Decisions are taken without a person able to review or contest them."},
	{PatternVulnerablePopulation, "Vulnerable population", "The system affects people who cannot easily defend their interests."},
	{PatternScaleVsEquity, "Scale vs equity", "Automated decisions applied at scale amplify any systematic bias."},
	{PatternHumanOversight, "Human oversight", "Responsibility for outcomes is diluted between people and models."},
	{PatternSensitiveDataExposure, "Sensitive data exposure", "Special categories of data are processed in a sensitive sector."},
	{PatternOpacityVsPerformance, "Opacity vs performance", "Decisions rely on logic the affected people cannot understand."},
	{PatternSensitiveInference, "Sensitive inference", "The system infers highly sensitive attributes about people."},
	{PatternIrreversibility, "Irreversibility", "Automated flows produce effects that are hard to undo."},
	{PatternPurposeDrift, "Purpose drift", "Sensitive data is reused to train models beyond its original purpose."},
	{PatternDataSovereignty, "Data sovereignty", "Data leaves the jurisdiction that protects the people it describes."},
	{PatternPowerAsymmetry, "Power asymmetry", "People in a subordinate position are monitored or evaluated."},
	{PatternMinorsProtection, "Minors protection", "Data about minors is collected, inferred or used for recommendations."},
	{PatternManipulation, "Manipulation", "Highly agentive nudges reach a very large audience."},
	{PatternFrugality, "Frugality", "Large-scale training has a significant environmental footprint."},
}

// Patterns returns the tension pattern catalog.
func Patterns() []Pattern {
	return append([]Pattern(nil), patterns...)
}

func PatternByID(id string) (Pattern, bool) {
	for _, p := range patterns {
		if p.ID == id {
			return p, true
		}
	}
	return Pattern{}, false
}

var sensitiveSectors = map[domain.Sector]bool{
	domain.SectorHealth:    true,
	domain.SectorFinance:   true,
	domain.SectorInsurance: true,
	domain.SectorHR:        true,
	domain.SectorJustice:   true,
	domain.SectorEducation: true,
}

// EU and EEA jurisdictions; anything else declared on a node is outside.
var euJurisdictions = map[string]bool{
	"EU": true, "EEA": true,
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true, "DK": true,
	"EE": true, "FI": true, "FR": true, "DE": true, "GR": true, "HU": true, "IE": true,
	"IT": true, "LV": true, "LT": true, "LU": true, "MT": true, "NL": true, "PL": true,
	"PT": true, "RO": true, "SK": true, "SI": true, "ES": true, "SE": true,
	"IS": true, "LI": true, "NO": true,
}

func pair(a, b domain.EthicalDomain) [2]domain.EthicalDomain { return [2]domain.EthicalDomain{a, b} }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isNature(e domain.Edge, natures ...domain.Nature) bool {
	for _, n := range natures {
		if e.Nature == n {
			return true
		}
	}
	return false
}

func automatedDecision(_ *Input, e domain.Edge) (bool, error) {
	return e.Nature == domain.NatureDecision && e.Automation.IsAutomatic(), nil
}

func unappealableDecision(_ *Input, e domain.Edge) (bool, error) {
	return e.Nature == domain.NatureDecision && e.Automation == domain.AutomationAutoNoRecourse, nil
}

func decisionFlow(_ *Input, e domain.Edge) (bool, error) {
	return e.Nature == domain.NatureDecision, nil
}

func sensitiveFlow(_ *Input, e domain.Edge) (bool, error) {
	if e.Sensitivity.AtLeast(domain.SensitivitySensitive) {
		return true, nil
	}
	for _, c := range e.DataCategories {
		if domain.IsSensitiveData(c) {
			return true, nil
		}
	}
	return false, nil
}

func highlySensitive(_ *Input, e domain.Edge) (bool, error) {
	return e.Sensitivity == domain.SensitivityHighlySensitive, nil
}

func opaqueDecision(_ *Input, e domain.Edge) (bool, error) {
	return isNature(e, domain.NatureDecision, domain.NatureRecommendation) && e.DimensionAtLeast(domain.DimOpacity, 4), nil
}

func sensitiveInference(_ *Input, e domain.Edge) (bool, error) {
	return e.Nature == domain.NatureInference && e.Sensitivity == domain.SensitivityHighlySensitive, nil
}

func irreversibleAutomation(_ *Input, e domain.Edge) (bool, error) {
	return e.Automation.IsAutomatic() && e.DimensionAtLeast(domain.DimIrreversibility, 4), nil
}

func learningOnSensitiveData(_ *Input, e domain.Edge) (bool, error) {
	return e.Nature == domain.NatureLearning && e.Sensitivity.AtLeast(domain.SensitivitySensitive), nil
}

func crossBorderTransfer(in *Input, e domain.Edge) (bool, error) {
	if !isNature(e, domain.NatureTransfer, domain.NatureStorage) {
		return false, nil
	}
	target, ok := in.Node(e.Target)
	if !ok {
		return false, nil
	}
	outside, err := boolAttribute(target, "outside_eu")
	if err != nil || outside {
		return outside, err
	}
	jurisdiction, ok, err := stringAttribute(target, "jurisdiction")
	if err != nil || !ok || jurisdiction == "" {
		return false, err
	}
	return !euJurisdictions[strings.ToUpper(jurisdiction)], nil
}

func nudgingAtScale(_ *Input, e domain.Edge) (bool, error) {
	return isNature(e, domain.NatureRecommendation, domain.NatureNotification) &&
		e.DimensionAtLeast(domain.DimAgentivity, 4) &&
		e.DimensionAtLeast(domain.DimScalability, 4), nil
}

func unsupervisedAIChain(in *Input, e domain.Edge) (bool, error) {
	if !isNature(e, domain.NatureDecision, domain.NatureControl) {
		return false, nil
	}
	if e.Automation != domain.AutomationSemiAuto && !e.Automation.IsAutomatic() {
		return false, nil
	}
	src, ok := in.Node(e.Source)
	if !ok || src.Type != domain.NodeAI {
		return false, nil
	}
	dst, ok := in.Node(e.Target)
	return ok && dst.Type == domain.NodeAI, nil
}

func energyIntensiveLearning(_ *Input, e domain.Edge) (bool, error) {
	v, ok := e.Dimension(domain.DimScalability)
	return e.Nature == domain.NatureLearning && ok && v == domain.MaxDimension, nil
}

func minorsData(_ *Input, e domain.Edge) (bool, error) {
	return e.HasDataCategory(domain.DataMinors), nil
}

// linkedTo matches edges of the given natures touching one of the nodes.
func linkedTo(nodes []domain.Node, natures ...domain.Nature) edgePredicate {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	return func(_ *Input, e domain.Edge) (bool, error) {
		return isNature(e, natures...) && (ids[e.Source] || ids[e.Target]), nil
	}
}

func both(a, b edgePredicate) edgePredicate {
	return func(in *Input, e domain.Edge) (bool, error) {
		ok, err := a(in, e)
		if err != nil || !ok {
			return false, err
		}
		return b(in, e)
	}
}

func edgeRule(pred edgePredicate) (func(*Input) (bool, error), func(*Input) ([]string, []string, error)) {
	return func(in *Input) (bool, error) { return in.anyEdge(pred) },
		func(in *Input) ([]string, []string, error) { return in.related(pred) }
}

// populationLinks returns the human nodes matching kind and the flows that
// touch them.
func populationLinks(in *Input, kind KeywordKind, natures ...domain.Nature) ([]domain.Node, []domain.Edge, error) {
	humans, err := in.humansMatching(kind)
	if err != nil || len(humans) == 0 {
		return nil, nil, err
	}
	edges, err := in.matchingEdges(linkedTo(humans, natures...))
	if err != nil {
		return nil, nil, err
	}
	return humans, edges, nil
}

var surveillanceNatures = []domain.Nature{domain.NatureCollect, domain.NatureControl, domain.NatureDecision, domain.NatureInference}

var minorsNatures = []domain.Nature{domain.NatureCollect, domain.NatureInference, domain.NatureRecommendation}

// Catalog returns the built-in rules in evaluation order.
func Catalog() []Rule {
	opaqueMatch, opaqueRelated := edgeRule(opaqueDecision)
	inferenceMatch, inferenceRelated := edgeRule(sensitiveInference)
	irreversibleMatch, irreversibleRelated := edgeRule(irreversibleAutomation)
	learningMatch, learningRelated := edgeRule(learningOnSensitiveData)
	transferMatch, transferRelated := edgeRule(crossBorderTransfer)
	nudgeMatch, nudgeRelated := edgeRule(nudgingAtScale)
	chainMatch, chainRelated := edgeRule(unsupervisedAIChain)
	energyMatch, energyRelated := edgeRule(energyIntensiveLearning)

	return []Rule{
		{
			ID:           "R01_AUTOMATED_DECISION_NO_RECOURSE",
			Name:         "Automated decision without human recourse",
			PatternID:    PatternAutomationVsRecourse,
			Domains:      pair(domain.DomainAutonomy, domain.DomainRecourse),
			BaseSeverity: 4,
			Confidence:   domain.ConfidenceVeryHigh,
			Match: func(in *Input) (bool, error) {
				if in.Profile.DecisionType == domain.DecisionAuto {
					return true, nil
				}
				return in.anyEdge(unappealableDecision)
			},
			Related: func(in *Input) ([]string, []string, error) { return in.related(automatedDecision) },
			Adjust:  func(in *Input) (int, error) { return boolInt(in.Profile.HasVulnerable), nil },
		},
		{
			ID:           "R02_VULNERABLE_POPULATION",
			Name:         "Vulnerable population affected",
			PatternID:    PatternVulnerablePopulation,
			Domains:      pair(domain.DomainEquity, domain.DomainAutonomy),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceHigh,
			Match: func(in *Input) (bool, error) {
				if in.Profile.HasVulnerable {
					return true, nil
				}
				humans, err := in.humansMatching(KeywordsVulnerable)
				return len(humans) > 0, err
			},
			Related: func(in *Input) ([]string, []string, error) {
				humans, err := in.humansMatching(KeywordsVulnerable)
				return nil, nodeIDs(humans), err
			},
			Adjust: func(in *Input) (int, error) { return boolInt(in.Profile.DecisionType.AtLeast(domain.DecisionAssisted)), nil },
		},
		{
			ID:           "R03_MASS_SCALE_AUTOMATION",
			Name:         "Automated decisions at large scale",
			PatternID:    PatternScaleVsEquity,
			Domains:      pair(domain.DomainSocietalBalance, domain.DomainEquity),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceMedium,
			Match: func(in *Input) (bool, error) {
				return in.Profile.UserScale.AtLeast(domain.ScaleLarge) &&
					in.Profile.DecisionType.AtLeast(domain.DecisionAssisted), nil
			},
			Related: func(in *Input) ([]string, []string, error) { return in.related(decisionFlow) },
			Adjust:  func(in *Input) (int, error) { return boolInt(in.Profile.UserScale == domain.ScaleVeryLarge), nil },
		},
		{
			ID:           "R04_ACCOUNTABILITY_DILUTION",
			Name:         "Responsibility diluted between operators and model",
			PatternID:    PatternHumanOversight,
			Domains:      pair(domain.DomainResponsibility, domain.DomainMastery),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceMedium,
			Match: func(in *Input) (bool, error) {
				return in.Profile.DecisionType.AtLeast(domain.DecisionAssisted), nil
			},
			Related: func(in *Input) ([]string, []string, error) {
				var edgeIDs, ids []string
				for _, n := range in.Nodes {
					if n.Type == domain.NodeAI {
						ids = append(ids, n.ID)
					}
				}
				for _, e := range in.Edges {
					src, ok := in.Node(e.Source)
					if ok && src.Type == domain.NodeAI && isNature(e, domain.NatureDecision, domain.NatureControl) {
						edgeIDs = append(edgeIDs, e.ID)
					}
				}
				return edgeIDs, ids, nil
			},
			Adjust: func(in *Input) (int, error) { return boolInt(in.Profile.DecisionType == domain.DecisionAuto), nil },
		},
		{
			ID:           "R05_SENSITIVE_SECTOR_DATA",
			Name:         "Special categories of data in a sensitive sector",
			PatternID:    PatternSensitiveDataExposure,
			Domains:      pair(domain.DomainPrivacy, domain.DomainSecurity),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceHigh,
			Match: func(in *Input) (bool, error) {
				if !sensitiveSectors[in.Profile.Sector] {
					return false, nil
				}
				for _, c := range in.Profile.DataTypes {
					if domain.IsSensitiveData(c) {
						return true, nil
					}
				}
				return false, nil
			},
			Related: func(in *Input) ([]string, []string, error) { return in.related(sensitiveFlow) },
			Adjust: func(in *Input) (int, error) {
				ok, err := in.anyEdge(highlySensitive)
				return boolInt(ok), err
			},
		},
		{
			ID:           "R06_OPAQUE_DECISION",
			Name:         "Opaque decision or recommendation logic",
			PatternID:    PatternOpacityVsPerformance,
			Domains:      pair(domain.DomainTransparency, domain.DomainMastery),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceHigh,
			Match:        opaqueMatch,
			Related:      opaqueRelated,
			Adjust: func(in *Input) (int, error) {
				ok, err := in.anyEdge(both(opaqueDecision, highlySensitive))
				return boolInt(ok), err
			},
		},
		{
			ID:           "R07_SENSITIVE_INFERENCE",
			Name:         "Inference of highly sensitive attributes",
			PatternID:    PatternSensitiveInference,
			Domains:      pair(domain.DomainPrivacy, domain.DomainEquity),
			BaseSeverity: 4,
			Confidence:   domain.ConfidenceHigh,
			Match:        inferenceMatch,
			Related:      inferenceRelated,
		},
		{
			ID:           "R08_IRREVERSIBLE_AUTOMATION",
			Name:         "Automated flow with irreversible effects",
			PatternID:    PatternIrreversibility,
			Domains:      pair(domain.DomainRecourse, domain.DomainResponsibility),
			BaseSeverity: 4,
			Confidence:   domain.ConfidenceHigh,
			Match:        irreversibleMatch,
			Related:      irreversibleRelated,
		},
		{
			ID:           "R09_LEARNING_ON_SENSITIVE_DATA",
			Name:         "Model training on sensitive data",
			PatternID:    PatternPurposeDrift,
			Domains:      pair(domain.DomainPrivacy, domain.DomainLoyalty),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceMedium,
			Match:        learningMatch,
			Related:      learningRelated,
		},
		{
			ID:           "R10_CROSS_BORDER_TRANSFER",
			Name:         "Transfer or storage outside the EU",
			PatternID:    PatternDataSovereignty,
			Domains:      pair(domain.DomainSovereignty, domain.DomainSecurity),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceMedium,
			Match:        transferMatch,
			Related:      transferRelated,
			Adjust: func(in *Input) (int, error) {
				ok, err := in.anyEdge(both(crossBorderTransfer, sensitiveFlow))
				return boolInt(ok), err
			},
		},
		{
			ID:           "R11_SUBORDINATE_SURVEILLANCE",
			Name:         "Monitoring of people in a subordinate position",
			PatternID:    PatternPowerAsymmetry,
			Domains:      pair(domain.DomainAutonomy, domain.DomainLoyalty),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceMedium,
			Match: func(in *Input) (bool, error) {
				_, edges, err := populationLinks(in, KeywordsSubordinate, surveillanceNatures...)
				return len(edges) > 0, err
			},
			Related: func(in *Input) ([]string, []string, error) {
				humans, edges, err := populationLinks(in, KeywordsSubordinate, surveillanceNatures...)
				ids := make([]string, 0, len(edges))
				for _, e := range edges {
					ids = append(ids, e.ID)
				}
				return ids, nodeIDs(humans), err
			},
			Adjust: func(in *Input) (int, error) {
				_, edges, err := populationLinks(in, KeywordsSubordinate, surveillanceNatures...)
				if err != nil {
					return 0, err
				}
				for _, e := range edges {
					if e.DimensionAtLeast(domain.DimAsymmetry, 4) {
						return 1, nil
					}
				}
				return 0, nil
			},
		},
		{
			ID:           "R12_MINORS_PROFILING",
			Name:         "Collection or profiling of minors",
			PatternID:    PatternMinorsProtection,
			Domains:      pair(domain.DomainPrivacy, domain.DomainAutonomy),
			BaseSeverity: 4,
			Confidence:   domain.ConfidenceHigh,
			Match: func(in *Input) (bool, error) {
				if in.Profile.HasDataType(domain.DataMinors) {
					return true, nil
				}
				if ok, err := in.anyEdge(minorsData); err != nil || ok {
					return ok, err
				}
				_, edges, err := populationLinks(in, KeywordsMinors, minorsNatures...)
				return len(edges) > 0, err
			},
			Related: func(in *Input) ([]string, []string, error) {
				humans, edges, err := populationLinks(in, KeywordsMinors, minorsNatures...)
				if err != nil {
					return nil, nil, err
				}
				edgeIDs, ids, err := in.related(minorsData)
				for _, e := range edges {
					edgeIDs = append(edgeIDs, e.ID)
				}
				return edgeIDs, append(nodeIDs(humans), ids...), err
			},
		},
		{
			ID:           "R13_NUDGING_AT_SCALE",
			Name:         "Highly agentive nudges at scale",
			PatternID:    PatternManipulation,
			Domains:      pair(domain.DomainAutonomy, domain.DomainSocietalBalance),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceLow,
			Match:        nudgeMatch,
			Related:      nudgeRelated,
		},
		{
			ID:           "R14_UNSUPERVISED_AI_CHAIN",
			Name:         "AI systems steering each other without supervision",
			PatternID:    PatternHumanOversight,
			Domains:      pair(domain.DomainMastery, domain.DomainResponsibility),
			BaseSeverity: 3,
			Confidence:   domain.ConfidenceMedium,
			Match:        chainMatch,
			Related:      chainRelated,
		},
		{
			ID:           "R15_ENERGY_INTENSIVE_LEARNING",
			Name:         "Energy-intensive large-scale training",
			PatternID:    PatternFrugality,
			Domains:      pair(domain.DomainSustainability, domain.DomainMastery),
			BaseSeverity: 2,
			Confidence:   domain.ConfidenceLow,
			Match:        energyMatch,
			Related:      energyRelated,
			Adjust:       func(in *Input) (int, error) { return boolInt(in.Profile.UserScale == domain.ScaleVeryLarge), nil },
		},
	}
}
