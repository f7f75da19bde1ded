package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds the application configuration beyond what go-core's common
// log/metrics/ops config provides.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	IntegrationsFile      string
	SyncIntervalMinutes   int
	SyncWorkers           int
	MaxAlertsPerSync      int
	SlackWebhookURL       string
	APIToken              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider (empty = deterministic scoring only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.IntegrationsFile, "integrations-file", "", "path to the YAML integrations seed file")
	fs.IntVar(&c.SyncIntervalMinutes, "sync-interval-minutes", 15, "minutes between scheduled sync cycles (1..1440)")
	fs.IntVar(&c.SyncWorkers, "sync-workers", 4, "per-integration upsert concurrency (1..64)")
	fs.IntVar(&c.MaxAlertsPerSync, "max-alerts-per-sync", 1000, "cap on candidates taken from one adapter per sync pass")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.SyncIntervalMinutes <= 0 || c.SyncIntervalMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid SYNC_INTERVAL_MINUTES %d (must be 1..1440)", c.SyncIntervalMinutes))
	}
	if c.SyncWorkers <= 0 || c.SyncWorkers > 64 {
		errs = append(errs, fmt.Errorf("invalid SYNC_WORKERS %d (must be 1..64)", c.SyncWorkers))
	}
	if c.MaxAlertsPerSync <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_ALERTS_PER_SYNC %d (must be positive)", c.MaxAlertsPerSync))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
