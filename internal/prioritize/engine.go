// Package prioritize assigns priorities to canonical alerts. The Engine
// prefers an AI reasoning backend and always degrades to the deterministic
// rule-based scorer; a down or misbehaving backend never blocks or fails
// the surrounding pipeline.
package prioritize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// Provider is the reasoning backend. The returned text is expected to carry
// a JSON document; anything unparsable triggers the deterministic fallback.
type Provider interface {
	Reason(ctx context.Context, system, prompt string) (string, error)
}

const (
	// DefaultTimeout bounds a single reasoning call.
	DefaultTimeout = 45 * time.Second

	// DefaultMaxBatch bounds how many alerts go into one combined ranking
	// call, to keep latency and cost predictable.
	DefaultMaxBatch = 20
)

// Engine scores alerts. A nil provider disables the AI path entirely, which
// makes every operation a pure function of its inputs.
type Engine struct {
	provider Provider
	timeout  time.Duration
	maxBatch int
	logger   log.Logger
	hooks    Hooks
	now      func() time.Time
}

// Hooks receives engine observations for metrics wiring. Any field may be nil.
type Hooks struct {
	OnReason   func(op string, duration float64, failed bool)
	OnFallback func(op string)
}

// NewEngine creates a prioritization engine. provider may be nil to run
// deterministic-only.
func NewEngine(provider Provider, logger log.Logger, hooks Hooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		provider: provider,
		timeout:  DefaultTimeout,
		maxBatch: DefaultMaxBatch,
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
	}
}

// ScoreOne computes an alert's priority and analysis. The AI path is tried
// first with a bounded timeout; on any failure the deterministic formula and
// conservative default text apply. Never returns an error.
func (e *Engine) ScoreOne(ctx context.Context, a *alert.Alert) (int, *alert.Analysis) {
	if e.provider != nil {
		if an, ok := e.analyze(ctx, a); ok {
			return clamp(an.RiskScore, 1, 10), an
		}
		e.fallback(ctx, "score_one")
	}

	score := Score(a, e.now())
	return score, e.defaultAnalysis(a, score)
}

// Ranking is one entry of a batch re-ranking result.
type Ranking struct {
	ExternalID  string `json:"external_id"`
	Rank        int    `json:"rank"`
	Priority    int    `json:"priority_score"`
	Explanation string `json:"explanation"`
}

// ScoreBatch re-ranks a set of alerts in a single combined reasoning call,
// clamped to the engine's max batch size. On failure it ranks by the
// deterministic per-alert score descending, ties broken by most recent
// created_at. Never returns an error.
func (e *Engine) ScoreBatch(ctx context.Context, alerts []*alert.Alert) []Ranking {
	if len(alerts) == 0 {
		return nil
	}
	if len(alerts) > e.maxBatch {
		alerts = alerts[:e.maxBatch]
	}

	if e.provider != nil {
		if rankings, ok := e.rank(ctx, alerts); ok {
			return rankings
		}
		e.fallback(ctx, "score_batch")
	}

	return e.deterministicRanking(alerts)
}

// RemediationPlan generates a phased remediation plan for a high-priority
// alert, with deterministic defaults when the backend is unavailable.
func (e *Engine) RemediationPlan(ctx context.Context, a *alert.Alert) *alert.RemediationPlan {
	if e.provider != nil {
		prompt := buildRemediationPrompt(a)
		out, err := e.reason(ctx, "remediation", systemRemediation, prompt)
		if err == nil {
			var plan alert.RemediationPlan
			if jerr := unmarshalResponse(out, &plan); jerr == nil {
				return &plan
			}
			e.logger.Warn(ctx, "unparsable remediation response", "external_id", a.ExternalID)
		}
		e.fallback(ctx, "remediation")
	}
	return defaultRemediationPlan()
}

func (e *Engine) analyze(ctx context.Context, a *alert.Alert) (*alert.Analysis, bool) {
	out, err := e.reason(ctx, "score_one", systemAnalyze, buildAnalysisPrompt(a))
	if err != nil {
		return nil, false
	}

	var an alert.Analysis
	if err := unmarshalResponse(out, &an); err != nil {
		e.logger.Warn(ctx, "unparsable analysis response", "external_id", a.ExternalID, "error", err.Error())
		return nil, false
	}
	if an.RiskScore < 1 || an.RiskScore > 10 {
		e.logger.Warn(ctx, "analysis risk score out of range", "external_id", a.ExternalID, "risk_score", an.RiskScore)
		return nil, false
	}
	return &an, true
}

func (e *Engine) rank(ctx context.Context, alerts []*alert.Alert) ([]Ranking, bool) {
	out, err := e.reason(ctx, "score_batch", systemRank, buildRankingPrompt(alerts))
	if err != nil {
		return nil, false
	}

	var rankings []Ranking
	if err := unmarshalResponse(out, &rankings); err != nil {
		e.logger.Warn(ctx, "unparsable ranking response", "error", err.Error())
		return nil, false
	}

	known := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		known[a.ExternalID] = true
	}
	if len(rankings) != len(alerts) {
		e.logger.Warn(ctx, "ranking response size mismatch", "got", len(rankings), "want", len(alerts))
		return nil, false
	}
	for _, r := range rankings {
		if !known[r.ExternalID] || r.Priority < 1 || r.Priority > 10 {
			e.logger.Warn(ctx, "invalid ranking entry", "external_id", r.ExternalID, "priority", r.Priority)
			return nil, false
		}
	}
	return rankings, true
}

// reason calls the provider with the engine timeout applied.
func (e *Engine) reason(ctx context.Context, op, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := e.provider.Reason(ctx, system, prompt)
	dur := time.Since(start).Seconds()

	if e.hooks.OnReason != nil {
		e.hooks.OnReason(op, dur, err != nil)
	}
	if err != nil {
		e.logger.Warn(ctx, "reasoning call failed", "op", op, "duration", dur, "error", err.Error())
		return "", err
	}
	return out, nil
}

func (e *Engine) fallback(ctx context.Context, op string) {
	if e.hooks.OnFallback != nil {
		e.hooks.OnFallback(op)
	}
	e.logger.Info(ctx, "using deterministic fallback", "op", op)
}

func (e *Engine) deterministicRanking(alerts []*alert.Alert) []Ranking {
	now := e.now()

	type scored struct {
		a     *alert.Alert
		score int
	}
	items := make([]scored, len(alerts))
	for i, a := range alerts {
		items[i] = scored{a: a, score: Score(a, now)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].a.CreatedAt.After(items[j].a.CreatedAt)
	})

	out := make([]Ranking, len(items))
	for i, it := range items {
		out[i] = Ranking{
			ExternalID:  it.a.ExternalID,
			Rank:        i + 1,
			Priority:    it.score,
			Explanation: fmt.Sprintf("Priority based on severity: %s", it.a.Severity),
		}
	}
	return out
}

// defaultAnalysis builds the conservative explanatory text used when the AI
// path is unavailable.
func (e *Engine) defaultAnalysis(a *alert.Alert, score int) *alert.Analysis {
	return &alert.Analysis{
		RiskScore:          score,
		BusinessImpact:     businessImpact(a),
		UrgencyReason:      urgencyReason(a),
		RecommendedActions: recommendedActions(a),
		Confidence:         5,
	}
}

func businessImpact(a *alert.Alert) string {
	asset := "Unknown"
	if a.Asset != nil && a.Asset.Name != "" {
		asset = a.Asset.Name
	}
	switch a.Severity {
	case alert.SeverityCritical:
		return fmt.Sprintf("Critical impact on %s - immediate business disruption possible", asset)
	case alert.SeverityHigh:
		return fmt.Sprintf("High impact on %s - significant business risk", asset)
	case alert.SeverityMedium:
		return fmt.Sprintf("Medium impact on %s - moderate business risk", asset)
	default:
		return fmt.Sprintf("Low impact on %s - minimal business risk", asset)
	}
}

func urgencyReason(a *alert.Alert) string {
	var reasons []string
	if a.Severity == alert.SeverityCritical {
		reasons = append(reasons, "Critical severity requires immediate attention")
	}
	if a.Vulnerability != nil && a.Vulnerability.CVSSScore >= 9 {
		reasons = append(reasons, "Very high CVSS score indicates severe vulnerability")
	}
	if a.Threat != nil && a.Threat.Confidence >= 8 {
		reasons = append(reasons, "High confidence threat detection")
	}
	if a.Asset.Critical() {
		reasons = append(reasons, "Affects critical business asset")
	}
	if len(reasons) == 0 {
		return "Standard priority based on severity"
	}
	return strings.Join(reasons, "; ")
}

func recommendedActions(a *alert.Alert) []string {
	var actions []string
	if a.Severity == alert.SeverityCritical {
		actions = append(actions,
			"Immediate isolation of affected systems",
			"Emergency response team activation")
	}
	if a.Vulnerability != nil && a.Vulnerability.CVE != "" {
		actions = append(actions, fmt.Sprintf("Apply patch for %s", a.Vulnerability.CVE))
	}
	if a.Threat != nil && a.Threat.IOCType != "" {
		actions = append(actions, fmt.Sprintf("Block IOC: %s", a.Threat.IOCValue))
	}
	actions = append(actions,
		"Review security controls",
		"Update incident response procedures")
	return actions
}

func defaultRemediationPlan() *alert.RemediationPlan {
	return &alert.RemediationPlan{
		ImmediateActions: []string{"Isolate affected systems", "Block malicious IPs"},
		ShortTermActions: []string{"Apply security patches", "Update security controls"},
		LongTermActions:  []string{"Implement security monitoring", "Conduct security training"},
		Resources:        []string{"Security team", "IT team"},
		Timeline:         "1-2 weeks",
		SuccessCriteria:  []string{"No further incidents", "Systems patched"},
	}
}

// unmarshalResponse decodes the JSON document inside a reasoning response,
// tolerating surrounding prose and markdown fences.
func unmarshalResponse(out string, v any) error {
	s := strings.TrimSpace(out)
	if i := strings.IndexAny(s, "[{"); i >= 0 {
		end := strings.LastIndexByte(s, closingFor(s[i]))
		if end > i {
			s = s[i : end+1]
		}
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func closingFor(open byte) byte {
	if open == '[' {
		return ']'
	}
	return '}'
}
