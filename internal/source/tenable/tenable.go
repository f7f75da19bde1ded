// Package tenable adapts the Tenable.io vulnerability workbench API to the
// source.Adapter interface.
package tenable

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
	defaultBaseURL = "https://cloud.tenable.com"
	httpTimeout    = 30 * time.Second
	defaultLimit   = 100
)

// Adapter talks to one Tenable.io tenant.
type Adapter struct {
	accessKey string
	secretKey string
	baseURL   string
	client    *http.Client
}

// Factory builds a Tenable adapter from an integration's configuration.
func Factory(in *integration.Integration) (source.Adapter, error) {
	cfg := in.Config.Tenable
	if cfg == nil {
		return nil, fmt.Errorf("integration %q: missing tenable config", in.Name)
	}
	return New(cfg), nil
}

// New creates an adapter for the given credentials.
func New(cfg *integration.TenableConfig) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		baseURL:   base,
		client:    &http.Client{Timeout: httpTimeout},
	}
}

// Source implements source.Adapter.
func (a *Adapter) Source() alert.Source { return alert.SourceTenable }

// Vocabulary maps Tenable's numeric 0-4 severity scale; unknown values
// default to low per the vendor's own convention for unscored plugins.
func (a *Adapter) Vocabulary() normalize.Vocabulary {
	return normalize.Vocabulary{
		Source: alert.SourceTenable,
		Severities: map[string]alert.Severity{
			"0": alert.SeverityInfo,
			"1": alert.SeverityLow,
			"2": alert.SeverityMedium,
			"3": alert.SeverityHigh,
			"4": alert.SeverityCritical,
		},
		DefaultSeverity: alert.SeverityLow,
		DefaultCategory: alert.CategoryVulnerability,
	}
}

// wire types for the workbench response.
type vulnerability struct {
	PluginID        int      `json:"plugin_id"`
	PluginName      string   `json:"plugin_name"`
	Description     string   `json:"description"`
	Synopsis        string   `json:"synopsis"`
	Severity        int      `json:"severity"`
	CVE             string   `json:"cve"`
	CVSSBaseScore   float64  `json:"cvss_base_score"`
	CVSSVector      string   `json:"cvss_vector"`
	PublicationDate string   `json:"publication_date"`
	ExploitAvail    bool     `json:"exploit_available"`
	Hostname        string   `json:"hostname"`
	IPAddress       string   `json:"ip_address"`
	OperatingSystem string   `json:"operating_system"`
	FirstFound      string   `json:"first_found"`
	LastFound       string   `json:"last_found"`
	VulnCount       int      `json:"vuln_count"`
	Solution        string   `json:"solution"`
	SeeAlso         []string `json:"see_also"`
	Tags            []string `json:"tags"`
}

// Fetch lists workbench vulnerabilities and maps them to raw candidates.
func (a *Adapter) Fetch(ctx context.Context, filters integration.Filters) ([]*normalize.Raw, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	for _, s := range filters.Severities {
		q.Add("filter.severity", s)
	}

	var out struct {
		Vulnerabilities []vulnerability `json:"vulnerabilities"`
	}
	if err := a.get(ctx, "/workbenches/vulnerabilities", q, &out); err != nil {
		return nil, fmt.Errorf("tenable: list vulnerabilities: %w", err)
	}

	raws := make([]*normalize.Raw, 0, len(out.Vulnerabilities))
	for _, v := range out.Vulnerabilities {
		raws = append(raws, a.transform(&v))
	}
	return raws, nil
}

func (a *Adapter) transform(v *vulnerability) *normalize.Raw {
	desc := v.Description
	if desc == "" {
		desc = v.Synopsis
	}

	assetName := v.Hostname
	if assetName == "" {
		assetName = v.IPAddress
	}

	count := v.VulnCount
	if count == 0 {
		count = 1
	}

	var steps []string
	if v.Solution != "" {
		steps = []string{v.Solution}
	}

	firstFound := parseTime(v.FirstFound)
	lastFound := parseTime(v.LastFound)

	raw := &normalize.Raw{
		NativeID:    strconv.Itoa(v.PluginID),
		Title:       v.PluginName,
		Description: desc,
		Severity:    strconv.Itoa(v.Severity),
		Asset: &alert.Asset{
			Name:     assetName,
			IP:       v.IPAddress,
			Hostname: v.Hostname,
			OS:       v.OperatingSystem,
			Tags:     v.Tags,
		},
		Vulnerability: &alert.Vulnerability{
			CVE:              v.CVE,
			CVSSScore:        v.CVSSBaseScore,
			CVSSVector:       v.CVSSVector,
			PublishedDate:    parseTime(v.PublicationDate),
			Description:      v.Description,
			References:       v.SeeAlso,
			ExploitAvailable: v.ExploitAvail,
		},
		Detection: &alert.Detection{
			RuleName:      v.PluginName,
			RuleID:        strconv.Itoa(v.PluginID),
			DetectionTime: firstFound,
			FirstSeen:     firstFound,
			LastSeen:      lastFound,
			Count:         count,
		},
		Remediation: &alert.Remediation{
			Steps:     steps,
			Resources: v.SeeAlso,
		},
		Tags: v.Tags,
	}
	if firstFound != nil {
		raw.FirstSeen = *firstFound
	}
	if lastFound != nil {
		raw.LastSeen = *lastFound
	}
	return raw
}

// TestConnection verifies credentials against the scanners endpoint.
func (a *Adapter) TestConnection(ctx context.Context) (*source.TestResult, error) {
	var out struct {
		Scanners []json.RawMessage `json:"scanners"`
	}
	if err := a.get(ctx, "/scanners", nil, &out); err != nil {
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
	req.Header.Set("X-ApiKeys", fmt.Sprintf("accessKey=%s;secretKey=%s", a.accessKey, a.secretKey))

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
