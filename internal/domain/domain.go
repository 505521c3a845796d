package domain

// Enumerations are plain strings so that values unknown to this build still
// round-trip through JSON/YAML; consumers fall back to documented defaults.

type Sector string

const (
	SectorHealth      Sector = "HEALTH"
	SectorFinance     Sector = "FINANCE"
	SectorInsurance   Sector = "INSURANCE"
	SectorHR          Sector = "HR"
	SectorEducation   Sector = "EDUCATION"
	SectorJustice     Sector = "JUSTICE"
	SectorPublicAdmin Sector = "PUBLIC_ADMIN"
	SectorSecurity    Sector = "SECURITY"
	SectorRetail      Sector = "RETAIL"
	SectorMarketing   Sector = "MARKETING"
	SectorTransport   Sector = "TRANSPORT"
	SectorEnergy      Sector = "ENERGY"
	SectorMedia       Sector = "MEDIA"
	SectorOther       Sector = "OTHER"
)

type DecisionType string

const (
	DecisionInformative    DecisionType = "INFORMATIVE"
	DecisionRecommendation DecisionType = "RECOMMENDATION"
	DecisionAssisted       DecisionType = "ASSISTED_DECISION"
	DecisionAuto           DecisionType = "AUTO_DECISION"
)

// DecisionTypes lists decision types by increasing automation.
var DecisionTypes = []DecisionType{DecisionInformative, DecisionRecommendation, DecisionAssisted, DecisionAuto}

// Rank returns the automation rank of d, or -1 when d is not recognized.
func (d DecisionType) Rank() int { return rank(DecisionTypes, d) }

// AtLeast reports whether d is recognized and at least as automated as min.
func (d DecisionType) AtLeast(min DecisionType) bool {
	r := d.Rank()
	return r >= 0 && r >= min.Rank()
}

type UserScale string

const (
	ScaleTiny      UserScale = "TINY"
	ScaleSmall     UserScale = "SMALL"
	ScaleMedium    UserScale = "MEDIUM"
	ScaleLarge     UserScale = "LARGE"
	ScaleVeryLarge UserScale = "VERY_LARGE"
)

var UserScales = []UserScale{ScaleTiny, ScaleSmall, ScaleMedium, ScaleLarge, ScaleVeryLarge}

func (s UserScale) Rank() int { return rank(UserScales, s) }

func (s UserScale) AtLeast(min UserScale) bool {
	r := s.Rank()
	return r >= 0 && r >= min.Rank()
}

// Data categories declared on a profile or carried by an edge.
const (
	DataPersonal   = "PERSONAL"
	DataHealth     = "HEALTH"
	DataBiometric  = "BIOMETRIC"
	DataGenetic    = "GENETIC"
	DataFinancial  = "FINANCIAL"
	DataJudicial   = "JUDICIAL"
	DataEthnic     = "ETHNIC"
	DataPolitical  = "POLITICAL"
	DataReligious  = "RELIGIOUS"
	DataSexual     = "SEXUAL"
	DataUnion      = "UNION"
	DataLocation   = "LOCATION"
	DataBehavioral = "BEHAVIORAL"
	DataMinors     = "MINORS"
)

var sensitiveData = map[string]bool{
	DataHealth: true, DataBiometric: true, DataGenetic: true, DataFinancial: true,
	DataJudicial: true, DataEthnic: true, DataPolitical: true, DataReligious: true,
	DataSexual: true, DataUnion: true, DataMinors: true,
}

// IsSensitiveData reports whether category belongs to the special categories of data.
func IsSensitiveData(category string) bool { return sensitiveData[category] }

type NodeType string

const (
	NodeHuman NodeType = "HUMAN"
	NodeAI    NodeType = "AI"
	NodeInfra NodeType = "INFRA"
	NodeOrg   NodeType = "ORG"
)

type Nature string

const (
	NatureCollect        Nature = "COLLECT"
	NatureInference      Nature = "INFERENCE"
	NatureEnrichment     Nature = "ENRICHMENT"
	NatureDecision       Nature = "DECISION"
	NatureRecommendation Nature = "RECOMMENDATION"
	NatureNotification   Nature = "NOTIFICATION"
	NatureLearning       Nature = "LEARNING"
	NatureControl        Nature = "CONTROL"
	NatureTransfer       Nature = "TRANSFER"
	NatureStorage        Nature = "STORAGE"
)

var Natures = []Nature{
	NatureCollect, NatureInference, NatureEnrichment, NatureDecision, NatureRecommendation,
	NatureNotification, NatureLearning, NatureControl, NatureTransfer, NatureStorage,
}

type Sensitivity string

const (
	SensitivityStandard        Sensitivity = "STANDARD"
	SensitivitySensitive       Sensitivity = "SENSITIVE"
	SensitivityHighlySensitive Sensitivity = "HIGHLY_SENSITIVE"
)

var Sensitivities = []Sensitivity{SensitivityStandard, SensitivitySensitive, SensitivityHighlySensitive}

func (s Sensitivity) Rank() int { return rank(Sensitivities, s) }

func (s Sensitivity) AtLeast(min Sensitivity) bool {
	r := s.Rank()
	return r >= 0 && r >= min.Rank()
}

type Automation string

const (
	AutomationInformative      Automation = "INFORMATIVE"
	AutomationAssisted         Automation = "ASSISTED"
	AutomationSemiAuto         Automation = "SEMI_AUTO"
	AutomationAutoWithRecourse Automation = "AUTO_WITH_RECOURSE"
	AutomationAutoNoRecourse   Automation = "AUTO_NO_RECOURSE"
)

var Automations = []Automation{
	AutomationInformative, AutomationAssisted, AutomationSemiAuto, AutomationAutoWithRecourse, AutomationAutoNoRecourse,
}

// IsAutomatic reports whether a flow runs without a human in the loop.
func (a Automation) IsAutomatic() bool {
	return a == AutomationAutoWithRecourse || a == AutomationAutoNoRecourse
}

type Dimension string

const (
	DimAgentivity      Dimension = "agentivity"
	DimAsymmetry       Dimension = "asymmetry"
	DimIrreversibility Dimension = "irreversibility"
	DimScalability     Dimension = "scalability"
	DimOpacity         Dimension = "opacity"
)

var Dimensions = []Dimension{DimAgentivity, DimAsymmetry, DimIrreversibility, DimScalability, DimOpacity}

const (
	MinDimension = 1
	MaxDimension = 5
)

type Confidence string

const (
	ConfidenceLow      Confidence = "LOW"
	ConfidenceMedium   Confidence = "MEDIUM"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceVeryHigh Confidence = "VERY_HIGH"
)

var Confidences = []Confidence{ConfidenceLow, ConfidenceMedium, ConfidenceHigh, ConfidenceVeryHigh}

func (c Confidence) Valid() bool { return rank(Confidences, c) >= 0 }

type SystemProfile struct {
	Sector        Sector       `json:"sector,omitempty" yaml:"sector,omitempty"`
	DecisionType  DecisionType `json:"decision_type" yaml:"decision_type"`
	UserScale     UserScale    `json:"user_scale" yaml:"user_scale"`
	HasVulnerable bool         `json:"has_vulnerable" yaml:"has_vulnerable"`
	DataTypes     []string     `json:"data_types,omitempty" yaml:"data_types,omitempty"`
}

// HasDataType reports whether the profile declares category.
func (p SystemProfile) HasDataType(category string) bool {
	for _, c := range p.DataTypes {
		if c == category {
			return true
		}
	}
	return false
}

type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Type       NodeType       `json:"type" yaml:"type"`
	Label      string         `json:"label,omitempty" yaml:"label,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

type Edge struct {
	ID              string      `json:"id" yaml:"id"`
	Source          string      `json:"source" yaml:"source"`
	Target          string      `json:"target" yaml:"target"`
	Nature          Nature      `json:"nature" yaml:"nature"`
	Sensitivity     Sensitivity `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	Automation      Automation  `json:"automation,omitempty" yaml:"automation,omitempty"`
	DataCategories  []string    `json:"data_categories,omitempty" yaml:"data_categories,omitempty"`
	Agentivity      *int        `json:"agentivity,omitempty" yaml:"agentivity,omitempty"`
	Asymmetry       *int        `json:"asymmetry,omitempty" yaml:"asymmetry,omitempty"`
	Irreversibility *int        `json:"irreversibility,omitempty" yaml:"irreversibility,omitempty"`
	Scalability     *int        `json:"scalability,omitempty" yaml:"scalability,omitempty"`
	Opacity         *int        `json:"opacity,omitempty" yaml:"opacity,omitempty"`
}

// Dimension returns the qualified value of d clamped to [1,5]; ok is false
// when the flow has not been qualified on that dimension.
func (e Edge) Dimension(d Dimension) (v int, ok bool) {
	var p *int
	switch d {
	case DimAgentivity:
		p = e.Agentivity
	case DimAsymmetry:
		p = e.Asymmetry
	case DimIrreversibility:
		p = e.Irreversibility
	case DimScalability:
		p = e.Scalability
	case DimOpacity:
		p = e.Opacity
	}
	if p == nil {
		return 0, false
	}
	return ClampInt(*p, MinDimension, MaxDimension), true
}

// DimensionAtLeast is false for unqualified dimensions.
func (e Edge) DimensionAtLeast(d Dimension, min int) bool {
	v, ok := e.Dimension(d)
	return ok && v >= min
}

func (e Edge) HasDataCategory(category string) bool {
	for _, c := range e.DataCategories {
		if c == category {
			return true
		}
	}
	return false
}

// DetectedTension is a single finding of the detector. Every edge and node
// that satisfied the rule is attached to the one finding.
type DetectedTension struct {
	PatternID       string           `json:"pattern_id"`
	RuleID          string           `json:"rule_id"`
	RuleName        string           `json:"rule_name"`
	ImpactedDomains [2]EthicalDomain `json:"impacted_domains"`
	Severity        int              `json:"severity" minimum:"1" maximum:"5"`
	RelatedEdgeIDs  []string         `json:"related_edge_ids"`
	RelatedNodeIDs  []string         `json:"related_node_ids"`
	Confidence      Confidence       `json:"confidence"`
}

type Tension struct {
	ID             string        `json:"id" yaml:"id"`
	PatternID      string        `json:"pattern_id,omitempty" yaml:"pattern_id,omitempty"`
	RuleID         string        `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	Title          string        `json:"title,omitempty" yaml:"title,omitempty"`
	DomainA        EthicalDomain `json:"domain_a" yaml:"domain_a"`
	DomainB        EthicalDomain `json:"domain_b" yaml:"domain_b"`
	Severity       int           `json:"severity" yaml:"severity"`
	Status         TensionStatus `json:"status" yaml:"status"`
	ExposureScore  *float64      `json:"exposure_score,omitempty" yaml:"exposure_score,omitempty"`
	Confidence     Confidence    `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	RelatedEdgeIDs []string      `json:"related_edge_ids,omitempty" yaml:"related_edge_ids,omitempty"`
	RelatedNodeIDs []string      `json:"related_node_ids,omitempty" yaml:"related_node_ids,omitempty"`
}

// Impacts reports whether d is one of the two domains in tension.
func (t Tension) Impacts(d EthicalDomain) bool { return t.DomainA == d || t.DomainB == d }

type Action struct {
	ID              string                    `json:"id" yaml:"id"`
	Title           string                    `json:"title,omitempty" yaml:"title,omitempty"`
	Status          ActionStatus              `json:"status" yaml:"status"`
	TensionID       *string                   `json:"tension_id,omitempty" yaml:"tension_id,omitempty"`
	EstimatedImpact map[EthicalDomain]float64 `json:"estimated_impact,omitempty" yaml:"estimated_impact,omitempty"`
}

func rank[T comparable](order []T, v T) int {
	for i, o := range order {
		if o == v {
			return i
		}
	}
	return -1
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ClampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
