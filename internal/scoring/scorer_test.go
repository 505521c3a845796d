package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etica/internal/domain"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }
func strp(v string) *string     { return &v }

func tension(id string, a, b domain.EthicalDomain, exposure float64) domain.Tension {
	return domain.Tension{
		ID:            id,
		DomainA:       a,
		DomainB:       b,
		Status:        domain.TensionDetected,
		ExposureScore: floatp(exposure),
	}
}

// scenarioTensions are the findings the detector produces for an automated,
// large-scale system affecting a vulnerable population, with the default
// exposure of severity x 20.
func scenarioTensions() []domain.Tension {
	return []domain.Tension{
		tension("t-r01", domain.DomainAutonomy, domain.DomainRecourse, 100),
		tension("t-r02", domain.DomainEquity, domain.DomainAutonomy, 80),
		tension("t-r03", domain.DomainSocietalBalance, domain.DomainEquity, 60),
		tension("t-r04", domain.DomainResponsibility, domain.DomainMastery, 80),
	}
}

var automatedProfile = domain.SystemProfile{
	DecisionType:  domain.DecisionAuto,
	HasVulnerable: true,
	UserScale:     domain.ScaleLarge,
}

func TestScoreAutomatedVulnerableSystem(t *testing.T) {
	got := Score(automatedProfile, nil, scenarioTensions(), nil)

	require.Len(t, got.ByDomain, 12)
	for _, d := range []domain.EthicalDomain{domain.DomainRecourse, domain.DomainAutonomy, domain.DomainEquity} {
		assert.Greater(t, got.ByDomain[d].Exposure, 0.0, d)
	}
	assert.InDelta(t, 88.0, got.ByDomain[domain.DomainRecourse].Exposure, 1e-9)
	assert.InDelta(t, 100.0, got.ByDomain[domain.DomainAutonomy].Exposure, 1e-9)
	assert.InDelta(t, 87.0, got.ByDomain[domain.DomainEquity].Exposure, 1e-9)
	assert.Equal(t, 2, got.ByDomain[domain.DomainEquity].TensionCount)
	assert.Equal(t, 0.0, got.ByDomain[domain.DomainRecourse].Coverage)
	assert.Equal(t, 1.0, got.ByDomain[domain.DomainPrivacy].Coverage)

	assert.InDelta(t, 0.5, got.Coverage, 1e-9)
	assert.InDelta(t, 807.5/12*0.65, got.Global, 1e-9)
	assert.GreaterOrEqual(t, got.GlobalLevel, 3)
	assert.Equal(t, 4, got.TensionCount)
	assert.Equal(t, 0, got.ActiveActionCount)
}

func TestDoneActionCoversLinkedTension(t *testing.T) {
	actions := []domain.Action{{ID: "a1", Status: domain.ActionDone, TensionID: strp("t-r01")}}
	got := Score(automatedProfile, nil, scenarioTensions(), actions)

	recourse := got.ByDomain[domain.DomainRecourse]
	assert.Equal(t, 1.0, recourse.Coverage)
	assert.InDelta(t, recourse.Exposure*0.3, recourse.Score, 1e-9)
	assert.Equal(t, 2, recourse.Level)

	assert.Equal(t, 0.5, got.ByDomain[domain.DomainAutonomy].Coverage)
	assert.Equal(t, 0.0, got.ByDomain[domain.DomainEquity].Coverage)
	assert.Equal(t, 1, got.ActiveActionCount)
}

func TestQuietSystemScoresLow(t *testing.T) {
	profile := domain.SystemProfile{DecisionType: domain.DecisionInformative, UserScale: domain.ScaleTiny}
	got := Score(profile, nil, nil, nil)

	for d, s := range got.ByDomain {
		assert.Less(t, s.Exposure, 5.0, d)
		assert.Equal(t, 1.0, s.Coverage, d)
		assert.Equal(t, 1, s.Level, d)
	}
	assert.Equal(t, 1, got.GlobalLevel)
	assert.Equal(t, 1.0, got.Coverage)
	assert.Zero(t, got.TensionCount)
}

func TestOpacityRaisesTransparencyExposure(t *testing.T) {
	opaque := domain.Edge{ID: "e", Nature: domain.NatureDecision, Sensitivity: domain.SensitivityHighlySensitive, Opacity: intp(5)}
	clear := opaque
	clear.Opacity = intp(1)

	hi := FlowExposure([]domain.Edge{opaque}, domain.DomainTransparency)
	lo := FlowExposure([]domain.Edge{clear}, domain.DomainTransparency)
	assert.Greater(t, hi, lo)
	assert.InDelta(t, 0.1, hi, 1e-9)
	assert.InDelta(t, 0.05, lo, 1e-9)
}

func TestFlowExposureIgnoresUnrelatedNatures(t *testing.T) {
	e := domain.Edge{ID: "e", Nature: domain.NatureStorage, Sensitivity: domain.SensitivityHighlySensitive, Opacity: intp(5)}
	assert.Zero(t, FlowExposure([]domain.Edge{e}, domain.DomainTransparency))
	e.Nature = "TELEPATHY"
	for _, d := range domain.EthicalDomains() {
		assert.Zero(t, FlowExposure([]domain.Edge{e}, d), d)
	}
}

func TestEdgeProfileScoreSkipsUnqualifiedDimensions(t *testing.T) {
	e := domain.Edge{Opacity: intp(5)}
	assert.Equal(t, 1.0, EdgeProfileScore(e, domain.DomainTransparency))

	e.Asymmetry = intp(1)
	assert.InDelta(t, 0.6, EdgeProfileScore(e, domain.DomainTransparency), 1e-9)

	assert.Zero(t, EdgeProfileScore(domain.Edge{}, domain.DomainTransparency))
	assert.Zero(t, EdgeProfileScore(domain.Edge{Agentivity: intp(5)}, domain.DomainSustainability))

	clamped := domain.Edge{Scalability: intp(12)}
	assert.Equal(t, 1.0, EdgeProfileScore(clamped, domain.DomainSustainability))
}

func TestUnknownValuesUseDefaultWeights(t *testing.T) {
	assert.Equal(t, 0.5, DecisionTypeWeight("FULLY_SENTIENT"))
	assert.Equal(t, 0.5, ScaleWeight(""))
	assert.Equal(t, 0.0, SensitivityWeight(""))
	assert.Equal(t, 0.5, SensitivityWeight("SECRET"))
	assert.Equal(t, 0.3, DomainDecisionSensitivity("HAPPINESS"))
	assert.Empty(t, NatureDomains("TELEPATHY"))

	got := Score(domain.SystemProfile{DecisionType: "FULLY_SENTIENT", UserScale: "HUGE"}, nil, nil, nil)
	assert.InDelta(t, (0.5*1.0*0.35+0.05)*100, got.ByDomain[domain.DomainRecourse].Exposure, 1e-9)
}

func TestDismissedTensionsAreIgnored(t *testing.T) {
	dismissed := tension("t1", domain.DomainPrivacy, domain.DomainSecurity, 100)
	dismissed.Status = domain.TensionDismissed
	resolved := tension("t2", domain.DomainPrivacy, domain.DomainLoyalty, 40)
	resolved.Status = domain.TensionResolved
	noScore := tension("t3", domain.DomainPrivacy, domain.DomainEquity, 0)
	noScore.ExposureScore = nil

	tensions := []domain.Tension{dismissed, resolved, noScore}
	assert.InDelta(t, 0.4*0.15, TensionExposure(tensions, domain.DomainPrivacy), 1e-9)
	assert.Zero(t, TensionExposure(tensions, domain.DomainSecurity))

	cov, count := Coverage(tensions, nil, domain.DomainSecurity)
	assert.Equal(t, 1.0, cov)
	assert.Zero(t, count)

	cov, count = Coverage(tensions, nil, domain.DomainPrivacy)
	assert.Zero(t, cov)
	assert.Equal(t, 2, count)

	assert.Equal(t, 2, Score(domain.SystemProfile{}, nil, tensions, nil).TensionCount)
}

func TestActionCountedOncePerDomain(t *testing.T) {
	tensions := []domain.Tension{
		tension("t1", domain.DomainPrivacy, domain.DomainSecurity, 60),
		tension("t2", domain.DomainPrivacy, domain.DomainEquity, 60),
	}
	both := domain.Action{
		ID:              "a1",
		Status:          "completed",
		TensionID:       strp("t1"),
		EstimatedImpact: map[domain.EthicalDomain]float64{domain.DomainPrivacy: 0.4},
	}
	cov, count := Coverage(tensions, []domain.Action{both}, domain.DomainPrivacy)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0.5, cov)
}

func TestCoverageFromEstimatedImpact(t *testing.T) {
	tensions := []domain.Tension{tension("t1", domain.DomainEquity, domain.DomainAutonomy, 60)}
	actions := []domain.Action{
		{ID: "a1", Status: "ongoing", EstimatedImpact: map[domain.EthicalDomain]float64{domain.DomainEquity: 0.2}},
		{ID: "a2", Status: domain.ActionTodo, TensionID: strp("t1")},
		{ID: "a3", Status: domain.ActionDone, TensionID: strp("unknown")},
	}
	cov, _ := Coverage(tensions, actions, domain.DomainEquity)
	assert.Equal(t, 0.5, cov)
	cov, _ = Coverage(tensions, actions, domain.DomainAutonomy)
	assert.Zero(t, cov)

	assert.Equal(t, 2, Score(domain.SystemProfile{}, nil, tensions, actions).ActiveActionCount)
}

func TestCoverageIsCapped(t *testing.T) {
	tensions := []domain.Tension{tension("t1", domain.DomainEquity, domain.DomainAutonomy, 60)}
	actions := []domain.Action{
		{ID: "a1", Status: domain.ActionDone, TensionID: strp("t1")},
		{ID: "a2", Status: domain.ActionDone, TensionID: strp("t1")},
	}
	cov, _ := Coverage(tensions, actions, domain.DomainEquity)
	assert.Equal(t, 1.0, cov)
}

func TestExposureIsClamped(t *testing.T) {
	edges := make([]domain.Edge, 0, 40)
	for i := 0; i < 40; i++ {
		edges = append(edges, domain.Edge{Nature: domain.NatureDecision, Sensitivity: domain.SensitivityHighlySensitive, Irreversibility: intp(5)})
	}
	assert.Equal(t, 100.0, Exposure(automatedProfile, edges, nil, domain.DomainRecourse))

	huge := tension("t", domain.DomainRecourse, domain.DomainAutonomy, 5000)
	assert.InDelta(t, 0.15, TensionExposure([]domain.Tension{huge}, domain.DomainRecourse), 1e-9)
}

func TestLevel(t *testing.T) {
	cases := []struct {
		score float64
		want  int
	}{
		{0, 1}, {19.99, 1}, {20, 2}, {39.9, 2}, {40, 3}, {59.9, 3}, {60, 4}, {79.99, 4}, {80, 5}, {100, 5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Level(tc.score), "level(%v)", tc.score)
	}
}

func TestScoreDoesNotModifyInputs(t *testing.T) {
	tensions := scenarioTensions()
	actions := []domain.Action{{ID: "a", Status: "done", TensionID: strp("t-r01")}}
	Score(automatedProfile, nil, tensions, actions)
	assert.Equal(t, scenarioTensions(), tensions)
	assert.Equal(t, domain.ActionStatus("done"), actions[0].Status)
}
