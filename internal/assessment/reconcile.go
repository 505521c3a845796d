package assessment

import (
	"etica/internal/domain"
)

// Reconciliation is the outcome of merging a fresh detection into the
// tensions already recorded for a system.
type Reconciliation struct {
	Tensions []domain.Tension `json:"tensions"`
	Created  []string         `json:"created"`
	Updated  []string         `json:"updated"`
	Stale    []string         `json:"stale"`
}

// Reconcile merges detected findings into existing tensions, matching them by
// rule id. Matched tensions keep their id and status; their severity and
// traceability are refreshed unless a human already settled them. Findings
// without a match become new DETECTED tensions appended in detection order.
// Existing tensions whose rule no longer fires are reported as stale and
// kept. Tensions without a rule id were recorded by hand and are left alone.
func Reconcile(systemID string, existing []domain.Tension, detected []domain.DetectedTension) Reconciliation {
	res := Reconciliation{
		Tensions: make([]domain.Tension, 0, len(existing)+len(detected)),
		Created:  []string{},
		Updated:  []string{},
		Stale:    []string{},
	}

	findings := make(map[string]domain.DetectedTension, len(detected))
	for _, d := range detected {
		if _, dup := findings[d.RuleID]; !dup {
			findings[d.RuleID] = d
		}
	}

	matched := map[string]bool{}
	for _, t := range existing {
		t = cloneTension(t)
		if t.RuleID == "" {
			res.Tensions = append(res.Tensions, t)
			continue
		}
		d, ok := findings[t.RuleID]
		if !ok || matched[t.RuleID] {
			res.Stale = append(res.Stale, t.ID)
			res.Tensions = append(res.Tensions, t)
			continue
		}
		matched[t.RuleID] = true
		if !t.Status.Settled() && refresh(&t, d) {
			res.Updated = append(res.Updated, t.ID)
		}
		res.Tensions = append(res.Tensions, t)
	}

	for _, d := range detected {
		if matched[d.RuleID] {
			continue
		}
		matched[d.RuleID] = true
		t := newTension(systemID, d)
		res.Tensions = append(res.Tensions, t)
		res.Created = append(res.Created, t.ID)
	}
	return res
}

// refresh copies the current finding onto t and reports whether its severity
// changed. An exposure score that still holds the default for the old
// severity follows the new one; a score set by hand is kept.
func refresh(t *domain.Tension, d domain.DetectedTension) bool {
	changed := t.Severity != d.Severity
	if t.ExposureScore == nil || *t.ExposureScore == DefaultExposure(t.Severity) {
		exposure := DefaultExposure(d.Severity)
		t.ExposureScore = &exposure
	}
	t.Severity = d.Severity
	t.PatternID = d.PatternID
	t.Confidence = d.Confidence
	t.RelatedEdgeIDs = append([]string(nil), d.RelatedEdgeIDs...)
	t.RelatedNodeIDs = append([]string(nil), d.RelatedNodeIDs...)
	return changed
}

func cloneTension(t domain.Tension) domain.Tension {
	if t.ExposureScore != nil {
		v := *t.ExposureScore
		t.ExposureScore = &v
	}
	t.RelatedEdgeIDs = append([]string(nil), t.RelatedEdgeIDs...)
	t.RelatedNodeIDs = append([]string(nil), t.RelatedNodeIDs...)
	return t
}
