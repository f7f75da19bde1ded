// Package crowdstrike adapts the CrowdStrike Falcon detections and
// incidents APIs to the source.Adapter interface.
package crowdstrike

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/integration"
	"github.com/linnemanlabs/aegis/internal/normalize"
	"github.com/linnemanlabs/aegis/internal/source"
)

const (
	defaultBaseURL = "https://api.crowdstrike.com"
	httpTimeout    = 30 * time.Second
	defaultLimit   = 100
)

// Adapter talks to one Falcon tenant. OAuth2 tokens are cached until expiry.
type Adapter struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Factory builds a CrowdStrike adapter from an integration's configuration.
func Factory(in *integration.Integration) (source.Adapter, error) {
	cfg := in.Config.CrowdStrike
	if cfg == nil {
		return nil, fmt.Errorf("integration %q: missing crowdstrike config", in.Name)
	}
	return New(cfg), nil
}

// New creates an adapter for the given OAuth2 credentials.
func New(cfg *integration.CrowdStrikeConfig) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      base,
		client:       &http.Client{Timeout: httpTimeout},
	}
}

// Source implements source.Adapter.
func (a *Adapter) Source() alert.Source { return alert.SourceCrowdStrike }

// Vocabulary maps Falcon's textual severities and detection statuses.
func (a *Adapter) Vocabulary() normalize.Vocabulary {
	return normalize.Vocabulary{
		Source: alert.SourceCrowdStrike,
		Severities: map[string]alert.Severity{
			"Critical": alert.SeverityCritical,
			"High":     alert.SeverityHigh,
			"Medium":   alert.SeverityMedium,
			"Low":      alert.SeverityLow,
			"Info":     alert.SeverityInfo,
		},
		DefaultSeverity: alert.SeverityMedium,
		Categories: map[string]alert.Category{
			"detection": alert.CategoryThreat,
			"incident":  alert.CategoryIncident,
		},
		DefaultCategory: alert.CategoryThreat,
		Statuses: map[string]alert.Status{
			"New":            alert.StatusOpen,
			"In Progress":    alert.StatusInProgress,
			"Closed":         alert.StatusResolved,
			"False Positive": alert.StatusFalsePositive,
		},
	}
}

type device struct {
	Hostname  string   `json:"hostname"`
	LocalIP   string   `json:"local_ip"`
	OSVersion string   `json:"os_version"`
	Tags      []string `json:"tags"`
}

type detection struct {
	DetectionID        string   `json:"detection_id"`
	Behavior           string   `json:"behavior"`
	PatternID          string   `json:"pattern_id"`
	Description        string   `json:"description"`
	PatternDescription string   `json:"pattern_description"`
	Severity           string   `json:"severity"`
	Device             device   `json:"device"`
	IOCType            string   `json:"ioc_type"`
	IOCValue           string   `json:"ioc_value"`
	ThreatActor        string   `json:"threat_actor"`
	AttackVector       string   `json:"attack_vector"`
	Confidence         int      `json:"confidence"`
	RuleName           string   `json:"rule_name"`
	RuleID             string   `json:"rule_id"`
	FirstBehavior      string   `json:"first_behavior"`
	LastBehavior       string   `json:"last_behavior"`
	BehaviorCount      int      `json:"behavior_count"`
	Tags               []string `json:"tags"`
}

type incident struct {
	IncidentID   string   `json:"incident_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Severity     string   `json:"severity"`
	Status       string   `json:"status"`
	AssignedTo   string   `json:"assigned_to"`
	ThreatActor  string   `json:"threat_actor"`
	AttackVector string   `json:"attack_vector"`
	Confidence   int      `json:"confidence"`
	RuleName     string   `json:"rule_name"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	LastModified string   `json:"last_modified"`
	Tags         []string `json:"tags"`
}

// Fetch combines detections and incidents into one candidate list, matching
// how the dashboard treats Falcon as a single feed.
func (a *Adapter) Fetch(ctx context.Context, filters integration.Filters) ([]*normalize.Raw, error) {
	detections, err := a.fetchDetections(ctx, filters)
	if err != nil {
		return nil, err
	}
	incidents, err := a.fetchIncidents(ctx, filters)
	if err != nil {
		return nil, err
	}
	return append(detections, incidents...), nil
}

func (a *Adapter) fetchDetections(ctx context.Context, filters integration.Filters) ([]*normalize.Raw, error) {
	ids, err := a.queryIDs(ctx, "/detects/queries/detects/v1", filters, "first_behavior|desc")
	if err != nil {
		return nil, fmt.Errorf("crowdstrike: query detections: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var out struct {
		Resources []detection `json:"resources"`
	}
	q := url.Values{"ids": []string{strings.Join(ids, ",")}}
	if err := a.get(ctx, "/detects/entities/summaries/GET/v1", q, &out); err != nil {
		return nil, fmt.Errorf("crowdstrike: detection summaries: %w", err)
	}

	raws := make([]*normalize.Raw, 0, len(out.Resources))
	for _, d := range out.Resources {
		raws = append(raws, a.transformDetection(&d))
	}
	return raws, nil
}

func (a *Adapter) fetchIncidents(ctx context.Context, filters integration.Filters) ([]*normalize.Raw, error) {
	ids, err := a.queryIDs(ctx, "/incidents/queries/incidents/v1", filters, "start|desc")
	if err != nil {
		return nil, fmt.Errorf("crowdstrike: query incidents: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var out struct {
		Resources []incident `json:"resources"`
	}
	q := url.Values{"ids": []string{strings.Join(ids, ",")}}
	if err := a.get(ctx, "/incidents/entities/incidents/GET/v1", q, &out); err != nil {
		return nil, fmt.Errorf("crowdstrike: incident details: %w", err)
	}

	raws := make([]*normalize.Raw, 0, len(out.Resources))
	for _, in := range out.Resources {
		raws = append(raws, a.transformIncident(&in))
	}
	return raws, nil
}

func (a *Adapter) transformDetection(d *detection) *normalize.Raw {
	title := d.Behavior
	if title == "" {
		title = d.PatternID
	}
	desc := d.Description
	if desc == "" {
		desc = d.PatternDescription
	}
	count := d.BehaviorCount
	if count == 0 {
		count = 1
	}

	first := parseTime(d.FirstBehavior)
	last := parseTime(d.LastBehavior)

	raw := &normalize.Raw{
		NativeID:    d.DetectionID,
		Title:       title,
		Description: desc,
		Severity:    d.Severity,
		Category:    "detection",
		Asset: &alert.Asset{
			Name:     d.Device.Hostname,
			IP:       d.Device.LocalIP,
			Hostname: d.Device.Hostname,
			OS:       d.Device.OSVersion,
			Tags:     d.Device.Tags,
		},
		Threat: &alert.Threat{
			IOCType:      d.IOCType,
			IOCValue:     d.IOCValue,
			ThreatActor:  d.ThreatActor,
			AttackVector: d.AttackVector,
			Confidence:   d.Confidence,
		},
		Detection: &alert.Detection{
			RuleName:      d.RuleName,
			RuleID:        d.RuleID,
			DetectionTime: first,
			FirstSeen:     first,
			LastSeen:      last,
			Count:         count,
		},
		Tags: d.Tags,
	}
	if first != nil {
		raw.FirstSeen = *first
	}
	if last != nil {
		raw.LastSeen = *last
	}
	return raw
}

func (a *Adapter) transformIncident(in *incident) *normalize.Raw {
	start := parseTime(in.Start)
	end := parseTime(in.End)
	modified := parseTime(in.LastModified)

	raw := &normalize.Raw{
		NativeID:    "incident_" + in.IncidentID,
		Title:       in.Name,
		Description: in.Description,
		Severity:    in.Severity,
		Status:      in.Status,
		Category:    "incident",
		Asset: &alert.Asset{
			Name: in.AssignedTo,
			Tags: in.Tags,
		},
		Threat: &alert.Threat{
			ThreatActor:  in.ThreatActor,
			AttackVector: in.AttackVector,
			Confidence:   in.Confidence,
		},
		Detection: &alert.Detection{
			RuleName:      in.RuleName,
			DetectionTime: start,
			FirstSeen:     start,
			LastSeen:      end,
		},
		Tags: in.Tags,
	}
	if start != nil {
		raw.FirstSeen = *start
	}
	if modified != nil {
		raw.LastSeen = *modified
	}
	return raw
}

// TestConnection authenticates and issues a minimal device query.
func (a *Adapter) TestConnection(ctx context.Context) (*source.TestResult, error) {
	var out struct {
		Resources []string `json:"resources"`
	}
	q := url.Values{"limit": []string{"1"}}
	if err := a.get(ctx, "/devices/queries/devices/v1", q, &out); err != nil {
		return &source.TestResult{Success: false, Message: err.Error()}, nil
	}
	return &source.TestResult{Success: true, Message: "Connection successful"}, nil
}

func (a *Adapter) queryIDs(ctx context.Context, path string, filters integration.Filters, sort string) ([]string, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", sort)

	var out struct {
		Resources []string `json:"resources"`
	}
	if err := a.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// ensureToken refreshes the OAuth2 access token when absent or expired.
func (a *Adapter) ensureToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	form := url.Values{}
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token error %d: %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	a.accessToken = tok.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return a.accessToken, nil
}

func (a *Adapter) get(ctx context.Context, path string, q url.Values, v any) error {
	token, err := a.ensureToken(ctx)
	if err != nil {
		return err
	}

	u := a.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

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
