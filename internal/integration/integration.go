// Package integration models the configured connections to external
// detection tools. The sync orchestrator reads status and settings and
// writes back last_sync and sync_status after each pass; everything else is
// operator-managed configuration.
package integration

import (
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// Type identifies which vendor an integration talks to.
type Type string

const (
	TypeTenable     Type = "tenable"
	TypeCrowdStrike Type = "crowdstrike"
	TypeVeracode    Type = "veracode"
	TypeSplunk      Type = "splunk"
)

// Status is the integration lifecycle state. Only active integrations are
// included in sync cycles.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusError    Status = "error"
	StatusTesting  Status = "testing"
)

// TenableConfig holds Tenable.io API credentials.
type TenableConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

// CrowdStrikeConfig holds CrowdStrike Falcon OAuth2 credentials.
type CrowdStrikeConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
}

// VeracodeConfig holds Veracode API credentials.
type VeracodeConfig struct {
	APIID   string `yaml:"api_id"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SplunkConfig holds Splunk REST API connection details.
type SplunkConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
	Index string `yaml:"index"`
}

// Config is the per-vendor configuration variant. Exactly one section
// matching the integration type must be set.
type Config struct {
	Tenable     *TenableConfig     `yaml:"tenable,omitempty"`
	CrowdStrike *CrowdStrikeConfig `yaml:"crowdstrike,omitempty"`
	Veracode    *VeracodeConfig    `yaml:"veracode,omitempty"`
	Splunk      *SplunkConfig      `yaml:"splunk,omitempty"`
}

// Thresholds maps a severity to the minimum priority that triggers an
// outward notification for a newly created alert of that severity.
// Severities with no entry never notify.
type Thresholds map[alert.Severity]int

// DefaultThresholds returns the stock notification thresholds: any critical
// alert, high alerts at priority 5+, medium alerts at priority 10.
func DefaultThresholds() Thresholds {
	return Thresholds{
		alert.SeverityCritical: 1,
		alert.SeverityHigh:     5,
		alert.SeverityMedium:   10,
	}
}

// Notifications controls whether and when new alerts from this integration
// emit notification events.
type Notifications struct {
	Enabled    bool       `yaml:"enabled"`
	Channels   []string   `yaml:"channels,omitempty"`
	Thresholds Thresholds `yaml:"thresholds,omitempty"`
}

// Filters is the vendor-agnostic fetch filter set passed to adapters.
type Filters struct {
	Severities []string `yaml:"severities,omitempty"`
	Categories []string `yaml:"categories,omitempty"`
	Limit      int      `yaml:"limit,omitempty"`
}

// Settings is the sync behavior for one integration.
type Settings struct {
	Filters       Filters       `yaml:"filters,omitempty"`
	Notifications Notifications `yaml:"notifications"`
	// MaxAlerts clamps how many candidates a single sync pass will take
	// from the adapter before normalization. Zero means the default.
	MaxAlerts int `yaml:"max_alerts,omitempty"`
}

// SyncStatus is the outcome of the most recent sync pass.
type SyncStatus struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	RecordsProcessed int      `json:"records_processed"`
	Errors           []string `json:"errors,omitempty"`
}

// Integration is one configured source connection.
type Integration struct {
	Name     string   `yaml:"name"`
	Type     Type     `yaml:"type"`
	Status   Status   `yaml:"status"`
	Config   Config   `yaml:",inline"`
	Settings Settings `yaml:"settings"`

	LastSync   *time.Time  `yaml:"-"`
	SyncStatus *SyncStatus `yaml:"-"`
}

// Validate checks that the integration names a known type and carries the
// matching configuration section.
func (i *Integration) Validate() error {
	if i.Name == "" {
		return errors.New("integration name is required")
	}
	switch i.Type {
	case TypeTenable:
		if i.Config.Tenable == nil {
			return fmt.Errorf("integration %q: missing tenable config", i.Name)
		}
	case TypeCrowdStrike:
		if i.Config.CrowdStrike == nil {
			return fmt.Errorf("integration %q: missing crowdstrike config", i.Name)
		}
	case TypeVeracode:
		if i.Config.Veracode == nil {
			return fmt.Errorf("integration %q: missing veracode config", i.Name)
		}
	case TypeSplunk:
		if i.Config.Splunk == nil {
			return fmt.Errorf("integration %q: missing splunk config", i.Name)
		}
	default:
		return fmt.Errorf("integration %q: unsupported type %q", i.Name, i.Type)
	}
	switch i.Status {
	case StatusInactive, StatusActive, StatusError, StatusTesting:
	default:
		return fmt.Errorf("integration %q: invalid status %q", i.Name, i.Status)
	}
	return nil
}

// clone returns a copy safe to hand out of the registry.
func (i *Integration) clone() *Integration {
	cp := *i
	if i.LastSync != nil {
		t := *i.LastSync
		cp.LastSync = &t
	}
	if i.SyncStatus != nil {
		st := *i.SyncStatus
		st.Errors = append([]string(nil), i.SyncStatus.Errors...)
		cp.SyncStatus = &st
	}
	return &cp
}
