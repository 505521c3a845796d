package assessment

import (
	"github.com/google/uuid"

	"etica/internal/domain"
)

// exposurePerSeverity converts a 1-5 severity into a 0-100 exposure score.
const exposurePerSeverity = 20

var tensionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://etica.local/tensions"))

// TensionID is stable for a given system and rule so repeated detections map
// onto the same record.
func TensionID(systemID, ruleID string) string {
	return uuid.NewSHA1(tensionNamespace, []byte(systemID+"|"+ruleID)).String()
}

// DefaultExposure is the exposure score recorded for a finding of the given
// severity.
func DefaultExposure(severity int) float64 {
	return float64(domain.ClampInt(severity, 1, 5) * exposurePerSeverity)
}

// ToTensions turns findings into new DETECTED tensions.
func ToTensions(systemID string, detected []domain.DetectedTension) []domain.Tension {
	out := make([]domain.Tension, 0, len(detected))
	for _, d := range detected {
		out = append(out, newTension(systemID, d))
	}
	return out
}

func newTension(systemID string, d domain.DetectedTension) domain.Tension {
	exposure := DefaultExposure(d.Severity)
	return domain.Tension{
		ID:             TensionID(systemID, d.RuleID),
		PatternID:      d.PatternID,
		RuleID:         d.RuleID,
		Title:          d.RuleName,
		DomainA:        d.ImpactedDomains[0],
		DomainB:        d.ImpactedDomains[1],
		Severity:       d.Severity,
		Status:         domain.TensionDetected,
		ExposureScore:  &exposure,
		Confidence:     d.Confidence,
		RelatedEdgeIDs: append([]string(nil), d.RelatedEdgeIDs...),
		RelatedNodeIDs: append([]string(nil), d.RelatedNodeIDs...),
	}
}
