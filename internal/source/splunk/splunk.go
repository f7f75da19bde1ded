// Package splunk adapts the Splunk search API to the source.Adapter
// interface. Three oneshot searches feed the sync cycle: security alerts,
// threat intelligence and compliance violations.
package splunk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/integration"
	"github.com/linnemanlabs/aegis/internal/normalize"
	"github.com/linnemanlabs/aegis/internal/source"
)

const (
	defaultPort  = 8089
	defaultIndex = "main"
	httpTimeout  = 30 * time.Second
	defaultLimit = 100
)

// Adapter talks to one Splunk search head.
type Adapter struct {
	baseURL string
	token   string
	index   string
	client  *http.Client
}

// Factory builds a Splunk adapter from an integration's configuration.
func Factory(in *integration.Integration) (source.Adapter, error) {
	cfg := in.Config.Splunk
	if cfg == nil {
		return nil, fmt.Errorf("integration %q: missing splunk config", in.Name)
	}
	return New(cfg), nil
}

// New creates an adapter for the given host and token.
func New(cfg *integration.SplunkConfig) *Adapter {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	index := cfg.Index
	if index == "" {
		index = defaultIndex
	}
	return &Adapter{
		baseURL: fmt.Sprintf("https://%s:%d", cfg.Host, port),
		token:   cfg.Token,
		index:   index,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// Source implements source.Adapter.
func (a *Adapter) Source() alert.Source { return alert.SourceSplunk }

// Vocabulary maps Splunk's textual severities and event categories. Numeric
// severities are collapsed to textual tokens by the transform before the
// vocabulary applies.
func (a *Adapter) Vocabulary() normalize.Vocabulary {
	return normalize.Vocabulary{
		Source: alert.SourceSplunk,
		Severities: map[string]alert.Severity{
			"Critical": alert.SeverityCritical,
			"High":     alert.SeverityHigh,
			"Medium":   alert.SeverityMedium,
			"Low":      alert.SeverityLow,
			"Info":     alert.SeverityInfo,
			"Warning":  alert.SeverityMedium,
			"Error":    alert.SeverityHigh,
		},
		DefaultSeverity: alert.SeverityMedium,
		Categories: map[string]alert.Category{
			"security":      alert.CategoryThreat,
			"threat":        alert.CategoryThreat,
			"compliance":    alert.CategoryCompliance,
			"audit":         alert.CategoryCompliance,
			"vulnerability": alert.CategoryVulnerability,
			"incident":      alert.CategoryIncident,
		},
		DefaultCategory: alert.CategoryThreat,
	}
}

// event is one oneshot search result row. Splunk's JSON output mode returns
// every field as a string.
type event map[string]string

func (e event) field(keys ...string) string {
	for _, k := range keys {
		if v := e[k]; v != "" {
			return v
		}
	}
	return ""
}

func (e event) intField(key string) int {
	n, _ := strconv.Atoi(e[key])
	return n
}

// Fetch runs the three feeds and concatenates the candidates. A failing feed
// fails the whole fetch so the sync cycle records the integration error.
func (a *Adapter) Fetch(ctx context.Context, filters integration.Filters) ([]*normalize.Raw, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	feeds := []struct {
		query     string
		transform func(event) *normalize.Raw
	}{
		{a.securityQuery(), a.transformSecurity},
		{a.threatQuery(), a.transformThreat},
		{a.complianceQuery(), a.transformCompliance},
	}

	var raws []*normalize.Raw
	for _, feed := range feeds {
		events, err := a.search(ctx, feed.query, limit)
		if err != nil {
			return nil, fmt.Errorf("splunk: search: %w", err)
		}
		for _, e := range events {
			raws = append(raws, feed.transform(e))
		}
	}
	return raws, nil
}

func (a *Adapter) securityQuery() string {
	return fmt.Sprintf(`index=%s sourcetype="*security*" OR sourcetype="*threat*" earliest=-24h`, a.index)
}

func (a *Adapter) threatQuery() string {
	return fmt.Sprintf(`index=%s sourcetype="*threat*" OR sourcetype="*ioc*" earliest=-24h`, a.index)
}

func (a *Adapter) complianceQuery() string {
	return fmt.Sprintf(`index=%s sourcetype="*compliance*" OR sourcetype="*audit*" earliest=-7d`, a.index)
}

func (a *Adapter) search(ctx context.Context, query string, limit int) ([]event, error) {
	q := url.Values{}
	q.Set("search", query)
	q.Set("output_mode", "json")
	q.Set("count", strconv.Itoa(limit))

	var out struct {
		Results []event `json:"results"`
	}
	if err := a.get(ctx, "/services/search/jobs/oneshot", q, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (a *Adapter) transformSecurity(e event) *normalize.Raw {
	title := e.field("alert_name", "event_type")
	if title == "" {
		title = "Security Alert"
	}

	raw := &normalize.Raw{
		NativeID:    e.field("_cd", "_time"),
		Title:       title,
		Description: e.field("description", "message", "_raw"),
		Severity:    severityToken(e.field("severity", "priority")),
		Category:    e.field("event_type", "sourcetype"),
		Asset: &alert.Asset{
			Name:     e.field("host", "src_host"),
			IP:       e.field("src_ip", "dest_ip"),
			Hostname: e["host"],
			OS:       e["os"],
		},
		Detection: &alert.Detection{
			RuleName:      e.field("rule_name", "alert_name"),
			RuleID:        e["rule_id"],
			DetectionTime: parseTime(e["_time"]),
			FirstSeen:     parseTime(e["first_time"]),
			LastSeen:      parseTime(e["last_time"]),
			Count:         countOf(e),
		},
	}
	if t := threatOf(e); t != nil {
		raw.Threat = t
	}
	applyTimes(raw, e["_time"], e["first_time"], e["last_time"])
	return raw
}

func (a *Adapter) transformThreat(e event) *normalize.Raw {
	title := e.field("threat_name", "ioc_value")
	if title == "" {
		title = "Threat Intelligence"
	}

	raw := &normalize.Raw{
		NativeID:    "threat_" + e.field("_cd", "_time"),
		Title:       title,
		Description: e.field("description", "threat_description"),
		Severity:    severityToken(e.field("severity", "confidence")),
		Category:    "threat",
		Threat:      threatOf(e),
		Detection: &alert.Detection{
			RuleName:      e["rule_name"],
			DetectionTime: parseTime(e["_time"]),
			FirstSeen:     parseTime(e["first_seen"]),
			LastSeen:      parseTime(e["last_seen"]),
			Count:         countOf(e),
		},
	}
	applyTimes(raw, e["_time"], e["first_seen"], e["last_seen"])
	return raw
}

func (a *Adapter) transformCompliance(e event) *normalize.Raw {
	title := e.field("violation_name", "control_name")
	if title == "" {
		title = "Compliance Violation"
	}

	raw := &normalize.Raw{
		NativeID:    "compliance_" + e.field("_cd", "_time"),
		Title:       title,
		Description: e.field("description", "violation_description"),
		Severity:    severityToken(e.field("severity", "risk_level")),
		Category:    "compliance",
		Asset: &alert.Asset{
			Name: e.field("host", "asset_name"),
		},
		Detection: &alert.Detection{
			RuleName:      e["control_name"],
			DetectionTime: parseTime(e["_time"]),
			FirstSeen:     parseTime(e["first_seen"]),
			LastSeen:      parseTime(e["last_seen"]),
			Count:         countOf(e),
		},
	}
	applyTimes(raw, e["_time"], e["first_seen"], e["last_seen"])
	return raw
}

func threatOf(e event) *alert.Threat {
	t := &alert.Threat{
		IOCType:      e["ioc_type"],
		IOCValue:     e["ioc_value"],
		ThreatActor:  e["threat_actor"],
		AttackVector: e["attack_vector"],
		Confidence:   e.intField("confidence"),
	}
	if t.IOCType == "" && t.IOCValue == "" && t.ThreatActor == "" && t.AttackVector == "" && t.Confidence == 0 {
		return nil
	}
	return t
}

func countOf(e event) int {
	if n := e.intField("count"); n > 0 {
		return n
	}
	return 1
}

func applyTimes(raw *normalize.Raw, eventTime, first, last string) {
	if t := parseTime(first); t != nil {
		raw.FirstSeen = *t
	} else if t := parseTime(eventTime); t != nil {
		raw.FirstSeen = *t
	}
	if t := parseTime(last); t != nil {
		raw.LastSeen = *t
	} else if t := parseTime(eventTime); t != nil {
		raw.LastSeen = *t
	}
}

// severityToken collapses numeric severities onto the textual scale before
// the vocabulary lookup. 4 and above is critical, 3 high, 2 medium, below
// that low.
func severityToken(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil {
		return s
	}
	switch {
	case n >= 4:
		return "Critical"
	case n >= 3:
		return "High"
	case n >= 2:
		return "Medium"
	default:
		return "Low"
	}
}

// TestConnection runs a one-row search against the configured index.
func (a *Adapter) TestConnection(ctx context.Context) (*source.TestResult, error) {
	q := url.Values{}
	q.Set("search", fmt.Sprintf("index=%s | head 1", a.index))
	q.Set("output_mode", "json")

	var out struct {
		Results []event `json:"results"`
	}
	if err := a.get(ctx, "/services/search/jobs/oneshot", q, &out); err != nil {
		return &source.TestResult{Success: false, Message: err.Error()}, nil
	}
	return &source.TestResult{Success: true, Message: "Connection successful"}, nil
}

func (a *Adapter) get(ctx context.Context, path string, q url.Values, v any) error {
	u := a.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Splunk "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-07:00", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
