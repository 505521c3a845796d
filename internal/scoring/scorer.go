// Package scoring computes per-domain exposure, mitigation coverage and the
// residual vigilance score of an assessed system.
package scoring

import (
	"math"

	"etica/internal/domain"
)

const (
	intrinsicDecisionFactor = 0.35
	vulnerableBonus         = 0.3
	intrinsicScaleFactor    = 0.1
	flowSensitivityFactor   = 0.05
	flowProfileFactor       = 0.05
	tensionFactor           = 0.15

	// maxSuppression is the share of exposure full coverage can remove.
	maxSuppression = 0.7
)

type DomainScore struct {
	Score        float64 `json:"score"`
	Level        int     `json:"level" minimum:"1" maximum:"5"`
	Exposure     float64 `json:"exposure"`
	Coverage     float64 `json:"coverage"`
	TensionCount int     `json:"tension_count"`
}

type VigilanceScores struct {
	Global            float64                              `json:"global"`
	GlobalLevel       int                                  `json:"global_level" minimum:"1" maximum:"5"`
	ByDomain          map[domain.EthicalDomain]DomainScore `json:"by_domain"`
	Coverage          float64                              `json:"coverage"`
	TensionCount      int                                  `json:"tension_count"`
	ActiveActionCount int                                  `json:"active_action_count"`
}

// Score computes the vigilance scores of a system. Inputs are not modified;
// the same inputs always give the same result.
func Score(profile domain.SystemProfile, edges []domain.Edge, tensions []domain.Tension, actions []domain.Action) VigilanceScores {
	domains := domain.EthicalDomains()
	out := VigilanceScores{ByDomain: make(map[domain.EthicalDomain]DomainScore, len(domains))}

	var exposureSum, coverageSum float64
	for _, d := range domains {
		exposure := Exposure(profile, edges, tensions, d)
		coverage, count := Coverage(tensions, actions, d)
		score := Residual(exposure, coverage)
		out.ByDomain[d] = DomainScore{
			Score:        score,
			Level:        Level(score),
			Exposure:     exposure,
			Coverage:     coverage,
			TensionCount: count,
		}
		exposureSum += exposure
		coverageSum += coverage
	}

	n := float64(len(domains))
	out.Coverage = coverageSum / n
	out.Global = Residual(exposureSum/n, out.Coverage)
	out.GlobalLevel = Level(out.Global)

	for _, t := range tensions {
		if t.Status.Active() {
			out.TensionCount++
		}
	}
	for _, a := range actions {
		switch a.Status.Normalize() {
		case domain.ActionInProgress, domain.ActionDone:
			out.ActiveActionCount++
		}
	}
	return out
}

// Exposure is the raw risk of d on a 0-100 scale.
func Exposure(profile domain.SystemProfile, edges []domain.Edge, tensions []domain.Tension, d domain.EthicalDomain) float64 {
	sum := IntrinsicExposure(profile, d) + FlowExposure(edges, d) + TensionExposure(tensions, d)
	return domain.ClampFloat(sum*100, 0, 100)
}

// IntrinsicExposure is the part of the exposure that follows from the system
// profile alone.
func IntrinsicExposure(profile domain.SystemProfile, d domain.EthicalDomain) float64 {
	v := DecisionTypeWeight(profile.DecisionType) * DomainDecisionSensitivity(d) * intrinsicDecisionFactor
	if profile.HasVulnerable {
		v += vulnerableBonus
	}
	return v + ScaleWeight(profile.UserScale)*intrinsicScaleFactor
}

// FlowExposure sums the contribution of every flow whose nature touches d.
func FlowExposure(edges []domain.Edge, d domain.EthicalDomain) float64 {
	var v float64
	for _, e := range edges {
		if !touches(e.Nature, d) {
			continue
		}
		v += SensitivityWeight(e.Sensitivity)*flowSensitivityFactor + EdgeProfileScore(e, d)*flowProfileFactor
	}
	return v
}

// TensionExposure sums the exposure scores of the active tensions on d.
// Tensions without a score contribute nothing.
func TensionExposure(tensions []domain.Tension, d domain.EthicalDomain) float64 {
	var v float64
	for _, t := range tensions {
		if !t.Status.Active() || !t.Impacts(d) || t.ExposureScore == nil || math.IsNaN(*t.ExposureScore) {
			continue
		}
		v += domain.ClampFloat(*t.ExposureScore, 0, 100) / 100 * tensionFactor
	}
	return v
}

// Coverage returns the share of the active tensions on d that is mitigated,
// and how many such tensions there are. A domain without tensions is fully
// covered. An action counts once, whether it is linked to one of the
// tensions or names d in its estimated impact.
func Coverage(tensions []domain.Tension, actions []domain.Action, d domain.EthicalDomain) (float64, int) {
	ids := map[string]bool{}
	count := 0
	for _, t := range tensions {
		if t.Status.Active() && t.Impacts(d) {
			count++
			if t.ID != "" {
				ids[t.ID] = true
			}
		}
	}
	if count == 0 {
		return 1, 0
	}
	var done, inProgress float64
	for _, a := range actions {
		_, named := a.EstimatedImpact[d]
		linked := a.TensionID != nil && ids[*a.TensionID]
		if !named && !linked {
			continue
		}
		switch a.Status.Normalize() {
		case domain.ActionDone:
			done++
		case domain.ActionInProgress:
			inProgress++
		}
	}
	return min(1, (done+0.5*inProgress)/float64(count)), count
}

// Residual applies coverage to an exposure. Coverage is clamped to [0,1] so
// the result never exceeds the exposure.
func Residual(exposure, coverage float64) float64 {
	return exposure * (1 - domain.ClampFloat(coverage, 0, 1)*maxSuppression)
}

// Level maps a 0-100 score onto the 1-5 risk scale.
func Level(score float64) int {
	switch {
	case score < 20:
		return 1
	case score < 40:
		return 2
	case score < 60:
		return 3
	case score < 80:
		return 4
	default:
		return 5
	}
}
