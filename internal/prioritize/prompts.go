package prioritize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/aegis/internal/alert"
)

const systemAnalyze = `You are a cybersecurity expert AI assistant specializing in threat analysis and risk assessment. Provide detailed, actionable insights for security alerts and vulnerabilities. Respond with JSON only.`

const systemRank = `You are a cybersecurity expert AI assistant specializing in alert prioritization. Analyze multiple security alerts and provide a prioritized ranking with a short explanation for each ranking decision. Respond with JSON only.`

const systemRemediation = `You are a cybersecurity expert AI assistant specializing in incident response and remediation. Provide detailed, step-by-step remediation plans for security issues. Respond with JSON only.`

func buildAnalysisPrompt(a *alert.Alert) string {
	return fmt.Sprintf(`Analyze the following security alert and provide a comprehensive risk assessment:

Alert Details:
- Title: %s
- Description: %s
- Source: %s
- Severity: %s
- Category: %s
- Asset: %s
- Vulnerability Details: %s
- Threat Details: %s
- Detection Info: %s

Please provide:
1. Risk Score (1-10)
2. Business Impact Assessment
3. Urgency Reason
4. Recommended Actions
5. Similar Incidents Context
6. Confidence Level (1-10)

Format your response as a JSON object with these exact keys: risk_score, business_impact, urgency_reason, recommended_actions, similar_incidents, confidence`,
		a.Title, a.Description, a.Source, a.Severity, a.Category,
		jsonField(a.Asset), jsonField(a.Vulnerability), jsonField(a.Threat), jsonField(a.Detection))
}

func buildRankingPrompt(alerts []*alert.Alert) string {
	var b strings.Builder
	for i, a := range alerts {
		asset := "Unknown"
		if a.Asset != nil && a.Asset.Name != "" {
			asset = a.Asset.Name
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n   - Severity: %s\n   - Source: %s\n   - Asset: %s\n   - Category: %s\n   - Current Priority: %d\n",
			i+1, a.ExternalID, a.Title, a.Severity, a.Source, asset, a.Category, a.Priority)
	}

	return fmt.Sprintf(`Analyze and prioritize the following security alerts. Consider factors like:
- Severity and potential impact
- Asset criticality
- Exploitability
- Business context
- Threat landscape

Alerts to prioritize:
%s
Provide a prioritized ranking (1 = highest priority) covering every alert exactly once.

Format your response as a JSON array of objects containing: external_id, rank, priority_score, explanation`, b.String())
}

func buildRemediationPrompt(a *alert.Alert) string {
	asset := "Unknown"
	if a.Asset != nil && a.Asset.Name != "" {
		asset = a.Asset.Name
	}
	return fmt.Sprintf(`Create a detailed remediation plan for this security alert:

Alert: %s
Description: %s
Severity: %s
Asset: %s
Vulnerability: %s
Threat: %s

Provide:
1. Immediate Actions (0-24 hours)
2. Short-term Actions (1-7 days)
3. Long-term Actions (1-4 weeks)
4. Required Resources
5. Estimated Timeline
6. Success Criteria

Format your response as a JSON object with: immediate_actions, short_term_actions, long_term_actions, resources, timeline, success_criteria`,
		a.Title, a.Description, a.Severity, asset, jsonField(a.Vulnerability), jsonField(a.Threat))
}

func jsonField(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
