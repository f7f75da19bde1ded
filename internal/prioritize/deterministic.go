package prioritize

import (
	"math"
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// severityScore is the base component of the deterministic priority formula.
var severityScore = map[alert.Severity]int{
	alert.SeverityCritical: 10,
	alert.SeverityHigh:     8,
	alert.SeverityMedium:   5,
	alert.SeverityLow:      2,
	alert.SeverityInfo:     1,
}

// staleAfter is the age at which an unaddressed finding picks up an extra
// priority point.
const staleAfter = 30 * 24 * time.Hour

// Score computes the rule-based priority for an alert. It is a pure function
// of the alert's severity, CVSS score, asset criticality, exploit
// availability, detection confidence, and age relative to now; the same
// inputs always produce the same result.
func Score(a *alert.Alert, now time.Time) int {
	s, ok := severityScore[a.Severity]
	if !ok {
		s = severityScore[alert.SeverityMedium]
	}

	if a.Vulnerability != nil && a.Vulnerability.CVSSScore > 0 {
		s += int(math.Floor(a.Vulnerability.CVSSScore))
	}
	if a.Asset.Critical() {
		s += 2
	}
	if a.Vulnerability != nil && a.Vulnerability.ExploitAvailable {
		s += 2
	}
	if a.Threat != nil && a.Threat.Confidence >= 8 {
		s += 2
	}
	if !a.CreatedAt.IsZero() && now.Sub(a.CreatedAt) > staleAfter {
		s++
	}

	return clamp(s, 1, 10)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
