package detect

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etica/internal/domain"
)

func intp(v int) *int { return &v }

func quietDetector(opts ...Option) *Detector {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(opts...)
}

func ruleIDs(ts []domain.DetectedTension) []string {
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		ids = append(ids, t.RuleID)
	}
	return ids
}

func findRule(t *testing.T, ts []domain.DetectedTension, id string) domain.DetectedTension {
	t.Helper()
	for _, tt := range ts {
		if tt.RuleID == id {
			return tt
		}
	}
	t.Fatalf("rule %s did not fire; got %v", id, ruleIDs(ts))
	return domain.DetectedTension{}
}

func TestAutomatedProfileWithVulnerablePopulation(t *testing.T) {
	profile := domain.SystemProfile{
		DecisionType:  domain.DecisionAuto,
		HasVulnerable: true,
		UserScale:     domain.ScaleLarge,
	}
	got := quietDetector().Detect(profile, nil, nil)

	require.Equal(t, []string{
		"R01_AUTOMATED_DECISION_NO_RECOURSE",
		"R02_VULNERABLE_POPULATION",
		"R03_MASS_SCALE_AUTOMATION",
		"R04_ACCOUNTABILITY_DILUTION",
	}, ruleIDs(got))

	recourse := findRule(t, got, "R01_AUTOMATED_DECISION_NO_RECOURSE")
	assert.Equal(t, PatternAutomationVsRecourse, recourse.PatternID)
	assert.Equal(t, [2]domain.EthicalDomain{domain.DomainAutonomy, domain.DomainRecourse}, recourse.ImpactedDomains)
	assert.Equal(t, 5, recourse.Severity)
	assert.Equal(t, domain.ConfidenceVeryHigh, recourse.Confidence)
	assert.Empty(t, recourse.RelatedEdgeIDs)

	vulnerable := findRule(t, got, "R02_VULNERABLE_POPULATION")
	assert.Equal(t, 4, vulnerable.Severity)
	assert.Equal(t, 3, findRule(t, got, "R03_MASS_SCALE_AUTOMATION").Severity)
	assert.Equal(t, 4, findRule(t, got, "R04_ACCOUNTABILITY_DILUTION").Severity)
}

func TestInformativeProfileDetectsNothing(t *testing.T) {
	profile := domain.SystemProfile{
		DecisionType: domain.DecisionInformative,
		UserScale:    domain.ScaleTiny,
	}
	res := quietDetector().Evaluate(profile, nil, nil)
	require.Empty(t, res.Tensions)
	require.NotNil(t, res.Tensions)
	require.Empty(t, res.Failures)
}

func TestDetectIsDeterministic(t *testing.T) {
	profile, nodes, edges := sampleGraph()
	d := quietDetector()
	first, err := json.Marshal(d.Detect(profile, nodes, edges))
	require.NoError(t, err)
	second, err := json.Marshal(d.Detect(profile, nodes, edges))
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
	require.NotEqual(t, "[]", string(first))
}

func TestOneFindingPerRuleWithAllMatchingEdges(t *testing.T) {
	nodes := []domain.Node{{ID: "ai", Type: domain.NodeAI}, {ID: "u", Type: domain.NodeHuman, Label: "Customers"}}
	edges := []domain.Edge{
		{ID: "e1", Source: "ai", Target: "u", Nature: domain.NatureDecision, Opacity: intp(5)},
		{ID: "e2", Source: "ai", Target: "u", Nature: domain.NatureRecommendation, Opacity: intp(4)},
		{ID: "e3", Source: "ai", Target: "u", Nature: domain.NatureDecision, Opacity: intp(2)},
	}
	got := quietDetector().Detect(domain.SystemProfile{DecisionType: domain.DecisionRecommendation}, nodes, edges)
	require.Equal(t, []string{"R06_OPAQUE_DECISION"}, ruleIDs(got))
	assert.Equal(t, []string{"e1", "e2"}, got[0].RelatedEdgeIDs)
	assert.Equal(t, []string{"ai", "u"}, got[0].RelatedNodeIDs)
}

func TestUnqualifiedFieldsNeverMatch(t *testing.T) {
	nodes := []domain.Node{{ID: "ai", Type: domain.NodeAI}, {ID: "u", Type: domain.NodeHuman}}
	edges := []domain.Edge{
		{ID: "decision", Source: "ai", Target: "u", Nature: domain.NatureDecision},
		{ID: "inference", Source: "ai", Target: "u", Nature: domain.NatureInference},
		{ID: "learning", Source: "u", Target: "ai", Nature: domain.NatureLearning, Sensitivity: "UNKNOWN"},
		{ID: "auto", Source: "ai", Target: "u", Nature: domain.NatureControl, Automation: domain.AutomationAutoNoRecourse},
	}
	got := quietDetector().Detect(domain.SystemProfile{DecisionType: domain.DecisionInformative}, nodes, edges)
	assert.Empty(t, got)
}

func TestEdgeRules(t *testing.T) {
	nodes := []domain.Node{
		{ID: "ai", Type: domain.NodeAI},
		{ID: "ai2", Type: domain.NodeAI},
		{ID: "cloud", Type: domain.NodeInfra, Attributes: map[string]any{"jurisdiction": "us"}},
		{ID: "u", Type: domain.NodeHuman, Label: "Customers"},
	}
	tests := []struct {
		name string
		edge domain.Edge
		want string
	}{
		{"unappealable decision", domain.Edge{ID: "x", Source: "ai", Target: "u", Nature: domain.NatureDecision, Automation: domain.AutomationAutoNoRecourse}, "R01_AUTOMATED_DECISION_NO_RECOURSE"},
		{"sensitive inference", domain.Edge{ID: "x", Source: "ai", Target: "u", Nature: domain.NatureInference, Sensitivity: domain.SensitivityHighlySensitive}, "R07_SENSITIVE_INFERENCE"},
		{"irreversible", domain.Edge{ID: "x", Source: "ai", Target: "u", Nature: domain.NatureControl, Automation: domain.AutomationAutoWithRecourse, Irreversibility: intp(4)}, "R08_IRREVERSIBLE_AUTOMATION"},
		{"learning", domain.Edge{ID: "x", Source: "u", Target: "ai", Nature: domain.NatureLearning, Sensitivity: domain.SensitivitySensitive}, "R09_LEARNING_ON_SENSITIVE_DATA"},
		{"transfer", domain.Edge{ID: "x", Source: "ai", Target: "cloud", Nature: domain.NatureTransfer}, "R10_CROSS_BORDER_TRANSFER"},
		{"nudging", domain.Edge{ID: "x", Source: "ai", Target: "u", Nature: domain.NatureNotification, Agentivity: intp(4), Scalability: intp(5)}, "R13_NUDGING_AT_SCALE"},
		{"ai chain", domain.Edge{ID: "x", Source: "ai", Target: "ai2", Nature: domain.NatureControl, Automation: domain.AutomationSemiAuto}, "R14_UNSUPERVISED_AI_CHAIN"},
		{"energy", domain.Edge{ID: "x", Source: "u", Target: "ai", Nature: domain.NatureLearning, Scalability: intp(9)}, "R15_ENERGY_INTENSIVE_LEARNING"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := quietDetector().Detect(domain.SystemProfile{DecisionType: domain.DecisionInformative}, nodes, []domain.Edge{tc.edge})
			require.Equal(t, []string{tc.want}, ruleIDs(got))
			assert.Equal(t, []string{"x"}, got[0].RelatedEdgeIDs)
		})
	}
}

func TestCrossBorderJurisdictions(t *testing.T) {
	edge := domain.Edge{ID: "t", Source: "app", Target: "dc", Nature: domain.NatureStorage, Sensitivity: domain.SensitivitySensitive}
	detect := func(attrs map[string]any) Result {
		nodes := []domain.Node{{ID: "app", Type: domain.NodeAI}, {ID: "dc", Type: domain.NodeInfra, Attributes: attrs}}
		return quietDetector().Evaluate(domain.SystemProfile{}, nodes, []domain.Edge{edge})
	}

	assert.Empty(t, detect(map[string]any{"jurisdiction": "FR"}).Tensions)
	assert.Empty(t, detect(nil).Tensions)

	res := detect(map[string]any{"outside_eu": true})
	require.Len(t, res.Tensions, 1)
	assert.Equal(t, 4, res.Tensions[0].Severity)

	res = detect(map[string]any{"jurisdiction": 7})
	assert.Empty(t, res.Tensions)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "R10_CROSS_BORDER_TRANSFER", res.Failures[0].RuleID)
}

func TestPopulationKeywordsFoldCaseAndAccents(t *testing.T) {
	nodes := []domain.Node{
		{ID: "ai", Type: domain.NodeAI},
		{ID: "staff", Type: domain.NodeHuman, Label: "SALARIÉS du siège"},
		{ID: "kids", Type: domain.NodeHuman, Label: "Enfants", Attributes: map[string]any{"population": []any{"Élèves de primaire"}}},
	}
	edges := []domain.Edge{
		{ID: "badge", Source: "staff", Target: "ai", Nature: domain.NatureCollect, Asymmetry: intp(5)},
		{ID: "profile", Source: "ai", Target: "kids", Nature: domain.NatureInference},
	}
	got := quietDetector().Detect(domain.SystemProfile{DecisionType: domain.DecisionInformative}, nodes, edges)

	require.Equal(t, []string{"R02_VULNERABLE_POPULATION", "R11_SUBORDINATE_SURVEILLANCE", "R12_MINORS_PROFILING"}, ruleIDs(got))
	sub := findRule(t, got, "R11_SUBORDINATE_SURVEILLANCE")
	assert.Equal(t, 4, sub.Severity)
	assert.Equal(t, []string{"badge"}, sub.RelatedEdgeIDs)
	assert.Equal(t, []string{"staff"}, sub.RelatedNodeIDs)
	assert.Equal(t, []string{"kids"}, findRule(t, got, "R02_VULNERABLE_POPULATION").RelatedNodeIDs)
	assert.Equal(t, []string{"profile"}, findRule(t, got, "R12_MINORS_PROFILING").RelatedEdgeIDs)
}

func TestUnmatchedTextNeverTriggers(t *testing.T) {
	nodes := []domain.Node{
		{ID: "ai", Type: domain.NodeAI},
		{ID: "c", Type: domain.NodeHuman, Label: "Customers", Attributes: map[string]any{"role": "buyer"}},
	}
	edges := []domain.Edge{{ID: "e", Source: "ai", Target: "c", Nature: domain.NatureCollect}}
	assert.Empty(t, quietDetector().Detect(domain.SystemProfile{}, nodes, edges))
}

func TestCustomKeywordsReplaceDefaults(t *testing.T) {
	nodes := []domain.Node{
		{ID: "ai", Type: domain.NodeAI},
		{ID: "c", Type: domain.NodeHuman, Label: "Gig riders"},
	}
	edges := []domain.Edge{{ID: "e", Source: "ai", Target: "c", Nature: domain.NatureControl}}
	d := quietDetector(WithKeywords(Keywords{Subordinate: []string{"Rider"}}))
	assert.Equal(t, []string{"R11_SUBORDINATE_SURVEILLANCE"}, ruleIDs(d.Detect(domain.SystemProfile{}, nodes, edges)))
}

func TestMalformedAttributeSkipsOnlyAffectedRules(t *testing.T) {
	nodes := []domain.Node{
		{ID: "ai", Type: domain.NodeAI},
		{ID: "h", Type: domain.NodeHuman, Attributes: map[string]any{"population": 42}},
	}
	edges := []domain.Edge{{ID: "e1", Source: "ai", Target: "h", Nature: domain.NatureDecision, Opacity: intp(5)}}
	res := quietDetector().Evaluate(domain.SystemProfile{DecisionType: domain.DecisionRecommendation}, nodes, edges)

	assert.Equal(t, []string{"R06_OPAQUE_DECISION"}, ruleIDs(res.Tensions))
	var failed []string
	for _, f := range res.Failures {
		failed = append(failed, f.RuleID)
	}
	assert.Equal(t, []string{"R02_VULNERABLE_POPULATION", "R11_SUBORDINATE_SURVEILLANCE", "R12_MINORS_PROFILING"}, failed)
}

func TestFailingRulesAreIsolated(t *testing.T) {
	boom := errors.New("boom")
	catalog := []Rule{
		{ID: "ok-1", Domains: pair(domain.DomainPrivacy, domain.DomainSecurity), BaseSeverity: 2, Confidence: domain.ConfidenceLow,
			Match: func(*Input) (bool, error) { return true, nil }},
		{ID: "panics", Match: func(*Input) (bool, error) { panic("kaboom") }},
		{ID: "errors", Match: func(*Input) (bool, error) { return false, boom }},
		{ID: "related-errors", Match: func(*Input) (bool, error) { return true, nil },
			Related: func(*Input) ([]string, []string, error) { return nil, nil, boom }},
		{ID: "no-predicate"},
		{ID: "ok-2", Domains: pair(domain.DomainEquity, domain.DomainLoyalty), BaseSeverity: 3, Confidence: domain.ConfidenceHigh,
			Match: func(*Input) (bool, error) { return true, nil }},
	}
	res := quietDetector(WithCatalog(catalog)).Evaluate(domain.SystemProfile{}, nil, nil)

	assert.Equal(t, []string{"ok-1", "ok-2"}, ruleIDs(res.Tensions))
	require.Len(t, res.Failures, 4)
	assert.Equal(t, "panics", res.Failures[0].RuleID)
	assert.Contains(t, res.Failures[0].Error(), "panic")
	assert.ErrorIs(t, res.Failures[1], boom)
	assert.ErrorIs(t, res.Failures[2], boom)
	assert.Equal(t, "no-predicate", res.Failures[3].RuleID)
}

func TestSeverityIsClamped(t *testing.T) {
	always := func(*Input) (bool, error) { return true, nil }
	d := quietDetector(WithCatalog([]Rule{
		{ID: "high", BaseSeverity: 4, Match: always, Adjust: func(*Input) (int, error) { return 5, nil }},
		{ID: "low", BaseSeverity: -2, Match: always},
	}))
	got := d.Detect(domain.SystemProfile{}, nil, nil)
	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].Severity)
	assert.Equal(t, 1, got[1].Severity)
}

func TestFailingAdjustmentSkipsRule(t *testing.T) {
	boom := errors.New("boom")
	always := func(*Input) (bool, error) { return true, nil }
	d := quietDetector(WithCatalog([]Rule{
		{ID: "adjust-fails", BaseSeverity: 3, Match: always, Adjust: func(*Input) (int, error) { return 1, boom }},
		{ID: "fine", BaseSeverity: 2, Match: always},
	}))
	res := d.Evaluate(domain.SystemProfile{}, nil, nil)
	assert.Equal(t, []string{"fine"}, ruleIDs(res.Tensions))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "adjust-fails", res.Failures[0].RuleID)
	assert.ErrorIs(t, res.Failures[0], boom)
}

func TestDisabledRules(t *testing.T) {
	profile := domain.SystemProfile{DecisionType: domain.DecisionAuto, HasVulnerable: true}
	d := quietDetector(WithDisabledRules("R01_AUTOMATED_DECISION_NO_RECOURSE", "R04_ACCOUNTABILITY_DILUTION"))
	assert.Equal(t, []string{"R02_VULNERABLE_POPULATION"}, ruleIDs(d.Detect(profile, nil, nil)))
	assert.Len(t, d.Rules(), len(Catalog())-2)
}

func TestCatalogIsWellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range Catalog() {
		assert.False(t, seen[r.ID], "duplicate rule id %s", r.ID)
		seen[r.ID] = true
		assert.NotNil(t, r.Match, r.ID)
		assert.True(t, r.Domains[0].Valid() && r.Domains[1].Valid(), r.ID)
		assert.NotEqual(t, r.Domains[0], r.Domains[1], r.ID)
		assert.True(t, r.Confidence.Valid(), r.ID)
		_, ok := PatternByID(r.PatternID)
		assert.True(t, ok, "rule %s references unknown pattern %s", r.ID, r.PatternID)
	}
}

func sampleGraph() (domain.SystemProfile, []domain.Node, []domain.Edge) {
	profile := domain.SystemProfile{
		Sector:        domain.SectorHR,
		DecisionType:  domain.DecisionAssisted,
		UserScale:     domain.ScaleVeryLarge,
		HasVulnerable: false,
		DataTypes:     []string{domain.DataPersonal, domain.DataHealth},
	}
	nodes := []domain.Node{
		{ID: "candidates", Type: domain.NodeHuman, Label: "Job candidates"},
		{ID: "recruiters", Type: domain.NodeHuman, Label: "Recruiters"},
		{ID: "scoring", Type: domain.NodeAI, Label: "CV scoring model"},
		{ID: "ats", Type: domain.NodeInfra, Label: "ATS", Attributes: map[string]any{"jurisdiction": "US"}},
		{ID: "hr", Type: domain.NodeOrg, Label: "HR department"},
	}
	edges := []domain.Edge{
		{ID: "collect", Source: "candidates", Target: "ats", Nature: domain.NatureCollect, Sensitivity: domain.SensitivitySensitive, DataCategories: []string{domain.DataPersonal}},
		{ID: "store", Source: "ats", Target: "ats", Nature: domain.NatureStorage},
		{ID: "transfer", Source: "hr", Target: "ats", Nature: domain.NatureTransfer, Sensitivity: domain.SensitivityHighlySensitive},
		{ID: "rank", Source: "scoring", Target: "candidates", Nature: domain.NatureDecision, Automation: domain.AutomationSemiAuto, Opacity: intp(5), Asymmetry: intp(4)},
		{ID: "train", Source: "ats", Target: "scoring", Nature: domain.NatureLearning, Sensitivity: domain.SensitivitySensitive, Scalability: intp(5)},
		{ID: "notify", Source: "scoring", Target: "recruiters", Nature: domain.NatureNotification},
	}
	return profile, nodes, edges
}
