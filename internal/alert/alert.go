// Package alert defines the canonical representation of a security finding
// after normalization, keyed by external ID for deduplication across sources.
package alert

import "time"

// Source identifies the detection tool a finding came from.
type Source string

const (
	SourceTenable     Source = "tenable"
	SourceCrowdStrike Source = "crowdstrike"
	SourceVeracode    Source = "veracode"
	SourceSplunk      Source = "splunk"
	SourceManual      Source = "manual"
)

// Severity is the canonical five-level severity scale.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is one of the canonical severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Status tracks where an alert is in its operator lifecycle.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusInProgress    Status = "in_progress"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// Terminal reports whether the status was carried by the source as a final
// disposition. Terminal statuses from a source candidate override operator
// state during a merge; all others are preserved.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Category classifies the kind of finding.
type Category string

const (
	CategoryVulnerability Category = "vulnerability"
	CategoryThreat        Category = "threat"
	CategoryCompliance    Category = "compliance"
	CategoryIncident      Category = "incident"
	CategoryAnomaly       Category = "anomaly"
)

// Asset describes the system the finding applies to.
type Asset struct {
	Name     string   `json:"name,omitempty"`
	IP       string   `json:"ip,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	OS       string   `json:"os,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Critical reports whether the asset is tagged as business-critical.
func (a *Asset) Critical() bool {
	if a == nil {
		return false
	}
	for _, t := range a.Tags {
		if t == "critical" {
			return true
		}
	}
	return false
}

// Vulnerability carries CVE/CVSS context for vulnerability findings.
type Vulnerability struct {
	CVE           string     `json:"cve,omitempty"`
	CVSSScore     float64    `json:"cvss_score,omitempty"`
	CVSSVector    string     `json:"cvss_vector,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Description   string     `json:"description,omitempty"`
	References    []string   `json:"references,omitempty"`
	// ExploitAvailable is set when the source reports a public exploit.
	ExploitAvailable bool `json:"exploit_available,omitempty"`
}

// Threat carries indicator context for threat-style findings.
type Threat struct {
	IOCType      string `json:"ioc_type,omitempty"`
	IOCValue     string `json:"ioc_value,omitempty"`
	ThreatActor  string `json:"threat_actor,omitempty"`
	AttackVector string `json:"attack_vector,omitempty"`
	// Confidence is the source's 1-10 detection confidence.
	Confidence int `json:"confidence,omitempty"`
}

// Detection records which rule fired and when.
type Detection struct {
	RuleName      string     `json:"rule_name,omitempty"`
	RuleID        string     `json:"rule_id,omitempty"`
	DetectionTime *time.Time `json:"detection_time,omitempty"`
	FirstSeen     *time.Time `json:"first_seen,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	Count         int        `json:"count,omitempty"`
}

// RemediationPlan is an AI-generated phased plan for resolving a finding.
type RemediationPlan struct {
	ImmediateActions []string `json:"immediate_actions,omitempty"`
	ShortTermActions []string `json:"short_term_actions,omitempty"`
	LongTermActions  []string `json:"long_term_actions,omitempty"`
	Resources        []string `json:"resources,omitempty"`
	Timeline         string   `json:"timeline,omitempty"`
	SuccessCriteria  []string `json:"success_criteria,omitempty"`
}

// Remediation carries fix guidance from the source plus any generated plan.
type Remediation struct {
	Steps         []string         `json:"steps,omitempty"`
	EstimatedTime string           `json:"estimated_time,omitempty"`
	Difficulty    string           `json:"difficulty,omitempty"`
	Resources     []string         `json:"resources,omitempty"`
	AIGenerated   bool             `json:"ai_generated,omitempty"`
	Plan          *RemediationPlan `json:"plan,omitempty"`
}

// Analysis is the structured output of a prioritization run. It is replaced
// wholesale on every recompute, never merged field by field.
type Analysis struct {
	RiskScore          int      `json:"risk_score"`
	BusinessImpact     string   `json:"business_impact,omitempty"`
	UrgencyReason      string   `json:"urgency_reason,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
	SimilarIncidents   []string `json:"similar_incidents,omitempty"`
	Confidence         int      `json:"confidence,omitempty"`
	// RankingExplanation is set by batch re-ranking runs.
	RankingExplanation string `json:"ranking_explanation,omitempty"`
}

// Assignee is the operator an alert is assigned to. Operator-entered,
// preserved across sync merges.
type Assignee struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Comment is a single operator note. Comments are append-only.
type Comment struct {
	UserID    string    `json:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is the canonical finding record. ExternalID and Source are immutable
// identity; everything else follows the per-field merge policy in the ingest
// package.
type Alert struct {
	ExternalID  string   `json:"external_id"`
	Source      Source   `json:"source"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	Priority    int      `json:"priority"`
	Status      Status   `json:"status"`
	Category    Category `json:"category"`

	Asset         *Asset         `json:"asset,omitempty"`
	Vulnerability *Vulnerability `json:"vulnerability,omitempty"`
	Threat        *Threat        `json:"threat,omitempty"`
	Detection     *Detection     `json:"detection,omitempty"`
	Remediation   *Remediation   `json:"remediation,omitempty"`
	Analysis      *Analysis      `json:"ai_analysis,omitempty"`

	Assignee *Assignee `json:"assignee,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Comments []Comment `json:"comments,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy, so stored alerts can be handed out without
// aliasing slices or sub-records.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Asset != nil {
		as := *a.Asset
		as.Tags = append([]string(nil), a.Asset.Tags...)
		cp.Asset = &as
	}
	if a.Vulnerability != nil {
		v := *a.Vulnerability
		v.References = append([]string(nil), a.Vulnerability.References...)
		cp.Vulnerability = &v
	}
	if a.Threat != nil {
		th := *a.Threat
		cp.Threat = &th
	}
	if a.Detection != nil {
		d := *a.Detection
		cp.Detection = &d
	}
	if a.Remediation != nil {
		r := *a.Remediation
		r.Steps = append([]string(nil), a.Remediation.Steps...)
		r.Resources = append([]string(nil), a.Remediation.Resources...)
		if a.Remediation.Plan != nil {
			p := *a.Remediation.Plan
			r.Plan = &p
		}
		cp.Remediation = &r
	}
	if a.Analysis != nil {
		an := *a.Analysis
		an.RecommendedActions = append([]string(nil), a.Analysis.RecommendedActions...)
		an.SimilarIncidents = append([]string(nil), a.Analysis.SimilarIncidents...)
		cp.Analysis = &an
	}
	if a.Assignee != nil {
		as := *a.Assignee
		cp.Assignee = &as
	}
	cp.Tags = append([]string(nil), a.Tags...)
	cp.Comments = append([]Comment(nil), a.Comments...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
