package alert

import (
	"testing"
	"time"
)

func TestClone_NoAliasing(t *testing.T) {
	t.Parallel()

	resolved := time.Now()
	a := &Alert{
		ExternalID:    "tenable_1",
		Severity:      SeverityHigh,
		Asset:         &Asset{Name: "web-1", Tags: []string{"prod"}},
		Vulnerability: &Vulnerability{CVE: "CVE-2026-0001", References: []string{"https://x"}},
		Remediation:   &Remediation{Steps: []string{"patch"}, Plan: &RemediationPlan{Timeline: "24h"}},
		Analysis:      &Analysis{RecommendedActions: []string{"isolate"}},
		Assignee:      &Assignee{Name: "alice"},
		Tags:          []string{"prod"},
		Comments:      []Comment{{UserName: "alice", Content: "looking"}},
		ResolvedAt:    &resolved,
	}

	cp := a.Clone()
	cp.Asset.Tags[0] = "changed"
	cp.Vulnerability.References[0] = "changed"
	cp.Remediation.Steps[0] = "changed"
	cp.Remediation.Plan.Timeline = "changed"
	cp.Analysis.RecommendedActions[0] = "changed"
	cp.Assignee.Name = "changed"
	cp.Tags[0] = "changed"
	cp.Comments[0].Content = "changed"
	*cp.ResolvedAt = cp.ResolvedAt.Add(time.Hour)

	if a.Asset.Tags[0] != "prod" ||
		a.Vulnerability.References[0] != "https://x" ||
		a.Remediation.Steps[0] != "patch" ||
		a.Remediation.Plan.Timeline != "24h" ||
		a.Analysis.RecommendedActions[0] != "isolate" ||
		a.Assignee.Name != "alice" ||
		a.Tags[0] != "prod" ||
		a.Comments[0].Content != "looking" ||
		!a.ResolvedAt.Equal(resolved) {
		t.Error("Clone() shares state with the original")
	}
}

func TestClone_Nil(t *testing.T) {
	t.Parallel()

	var a *Alert
	if a.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestSeverityValid(t *testing.T) {
	t.Parallel()

	for _, s := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Severity("urgent").Valid() {
		t.Error("unknown severity should be invalid")
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusOpen, false},
		{StatusInvestigating, false},
		{StatusInProgress, false},
		{StatusResolved, true},
		{StatusFalsePositive, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%q.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestAssetCritical(t *testing.T) {
	t.Parallel()

	if (&Asset{Tags: []string{"web", "critical"}}).Critical() != true {
		t.Error("tagged asset should be critical")
	}
	if (&Asset{Tags: []string{"web"}}).Critical() {
		t.Error("untagged asset should not be critical")
	}
	var nilAsset *Asset
	if nilAsset.Critical() {
		t.Error("nil asset should not be critical")
	}
}
