// Package veracode adapts the Veracode findings API to the source.Adapter
// interface. Findings are fetched per application and flattened into one
// candidate list.
package veracode

import (
	"context"
	"encoding/base64"
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
	defaultBaseURL = "https://analysiscenter.veracode.com"
	httpTimeout    = 30 * time.Second
	defaultLimit   = 100
)

// Adapter talks to one Veracode account.
type Adapter struct {
	credentials string
	baseURL     string
	client      *http.Client
}

// Factory builds a Veracode adapter from an integration's configuration.
func Factory(in *integration.Integration) (source.Adapter, error) {
	cfg := in.Config.Veracode
	if cfg == nil {
		return nil, fmt.Errorf("integration %q: missing veracode config", in.Name)
	}
	return New(cfg), nil
}

// New creates an adapter for the given API credentials.
func New(cfg *integration.VeracodeConfig) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		credentials: base64.StdEncoding.EncodeToString([]byte(cfg.APIID + ":" + cfg.APIKey)),
		baseURL:     base,
		client:      &http.Client{Timeout: httpTimeout},
	}
}

// Source implements source.Adapter.
func (a *Adapter) Source() alert.Source { return alert.SourceVeracode }

// Vocabulary maps Veracode's five textual severities and finding statuses.
func (a *Adapter) Vocabulary() normalize.Vocabulary {
	return normalize.Vocabulary{
		Source: alert.SourceVeracode,
		Severities: map[string]alert.Severity{
			"Very High": alert.SeverityCritical,
			"High":      alert.SeverityHigh,
			"Medium":    alert.SeverityMedium,
			"Low":       alert.SeverityLow,
			"Very Low":  alert.SeverityInfo,
		},
		DefaultSeverity: alert.SeverityMedium,
		DefaultCategory: alert.CategoryVulnerability,
		Statuses: map[string]alert.Status{
			"New":            alert.StatusOpen,
			"Open":           alert.StatusOpen,
			"Fixed":          alert.StatusResolved,
			"Mitigated":      alert.StatusResolved,
			"False Positive": alert.StatusFalsePositive,
		},
	}
}

type application struct {
	GUID                string `json:"guid"`
	Name                string `json:"name"`
	BusinessCriticality string `json:"business_criticality"`
}

type finding struct {
	IssueID       int      `json:"issue_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Severity      string   `json:"severity"`
	Status        string   `json:"status"`
	CWEID         string   `json:"cwe_id"`
	CVSSScore     float64  `json:"cvss_score"`
	CVSSVector    string   `json:"cvss_vector"`
	PublishedDate string   `json:"published_date"`
	References    []string `json:"references"`
	RuleName      string   `json:"rule_name"`
	RuleID        string   `json:"rule_id"`
	ScanDate      string   `json:"scan_date"`
	FirstFound    string   `json:"first_found"`
	LastFound     string   `json:"last_found"`
	Occurrences   int      `json:"occurrences"`
	Exploitable   bool     `json:"exploitability"`
	Tags          []string `json:"tags"`
}

// Fetch lists applications, then findings for each. A failing application
// is skipped rather than failing the whole feed.
func (a *Adapter) Fetch(ctx context.Context, filters integration.Filters) ([]*normalize.Raw, error) {
	apps, err := a.applications(ctx)
	if err != nil {
		return nil, fmt.Errorf("veracode: list applications: %w", err)
	}

	var raws []*normalize.Raw
	for _, app := range apps {
		findings, err := a.findings(ctx, app.GUID, filters)
		if err != nil {
			continue
		}
		for _, f := range findings {
			raws = append(raws, a.transform(&f, &app))
		}
	}
	return raws, nil
}

func (a *Adapter) applications(ctx context.Context) ([]application, error) {
	var out struct {
		Embedded struct {
			Applications []application `json:"applications"`
		} `json:"_embedded"`
	}
	if err := a.get(ctx, "/api/applications/v2", nil, &out); err != nil {
		return nil, err
	}
	return out.Embedded.Applications, nil
}

func (a *Adapter) findings(ctx context.Context, appGUID string, filters integration.Filters) ([]finding, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	q := url.Values{}
	q.Set("size", strconv.Itoa(limit))

	var out struct {
		Embedded struct {
			Findings []finding `json:"findings"`
		} `json:"_embedded"`
	}
	if err := a.get(ctx, "/api/applications/"+appGUID+"/findings", q, &out); err != nil {
		return nil, err
	}
	return out.Embedded.Findings, nil
}

func (a *Adapter) transform(f *finding, app *application) *normalize.Raw {
	count := f.Occurrences
	if count == 0 {
		count = 1
	}

	// a Very High business-criticality application is a critical asset for
	// priority purposes
	tags := f.Tags
	if app.BusinessCriticality == "Very High" {
		tags = append(append([]string(nil), tags...), "critical")
	}

	scanDate := parseTime(f.ScanDate)
	first := parseTime(f.FirstFound)
	last := parseTime(f.LastFound)

	raw := &normalize.Raw{
		NativeID:    strconv.Itoa(f.IssueID),
		Title:       f.Title,
		Description: f.Description,
		Severity:    f.Severity,
		Status:      f.Status,
		Asset: &alert.Asset{
			Name: app.Name,
			Tags: tags,
		},
		Vulnerability: &alert.Vulnerability{
			CVE:              f.CWEID,
			CVSSScore:        f.CVSSScore,
			CVSSVector:       f.CVSSVector,
			PublishedDate:    parseTime(f.PublishedDate),
			Description:      f.Description,
			References:       f.References,
			ExploitAvailable: f.Exploitable,
		},
		Detection: &alert.Detection{
			RuleName:      f.RuleName,
			RuleID:        f.RuleID,
			DetectionTime: scanDate,
			FirstSeen:     first,
			LastSeen:      last,
			Count:         count,
		},
		Tags: tags,
	}
	if first != nil {
		raw.FirstSeen = *first
	}
	if last != nil {
		raw.LastSeen = *last
	}
	return raw
}

// TestConnection verifies credentials against the applications endpoint.
func (a *Adapter) TestConnection(ctx context.Context) (*source.TestResult, error) {
	if _, err := a.applications(ctx); err != nil {
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
	req.Header.Set("Authorization", "Basic "+a.credentials)

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
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
