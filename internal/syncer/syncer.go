// Package syncer orchestrates sync cycles: it walks the active integrations,
// fetches and normalizes their candidates, resolves them against the store
// and emits domain events. One cycle runs at a time. A failing adapter or a
// malformed candidate counts an error and the cycle moves on; a store failure
// aborts the cycle.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/ingest"
	"github.com/linnemanlabs/aegis/internal/integration"
	"github.com/linnemanlabs/aegis/internal/normalize"
	"github.com/linnemanlabs/aegis/internal/notify"
	"github.com/linnemanlabs/aegis/internal/prioritize"
	"github.com/linnemanlabs/aegis/internal/source"
	"github.com/linnemanlabs/aegis/internal/store"
)

// ErrSyncInProgress is returned when a cycle is requested while another is
// still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrUnknownIntegration is returned when a named integration is not
// configured.
var ErrUnknownIntegration = errors.New("unknown integration")

const (
	// DefaultWorkers is the per-integration upsert concurrency.
	DefaultWorkers = 4

	// DefaultMaxAlerts clamps how many candidates one sync pass takes from
	// an adapter when the integration does not set its own limit.
	DefaultMaxAlerts = 1000

	prioritizeLimit  = 100
	remediationLimit = 20
	remediationFloor = 8
)

// Hooks receives orchestrator observations for metrics wiring. Any field may
// be nil.
type Hooks struct {
	OnCycle        func(duration float64, failed bool)
	OnIntegration  func(name string, failed bool)
	OnAlert        func(integrationName, outcome string)
	OnNotification func(integrationName string)
}

// Orchestrator drives the sync pipeline end to end.
type Orchestrator struct {
	integrations integration.Store
	adapters     *source.Registry
	upserter     *ingest.Upserter
	engine       *prioritize.Engine
	store        store.Store
	broker       *events.Broker
	logger       log.Logger
	hooks        Hooks

	workers   int
	maxAlerts int
	now       func() time.Time

	running sync.Mutex
}

// Options tunes an Orchestrator. Zero values take the defaults.
type Options struct {
	Workers   int
	MaxAlerts int
	Hooks     Hooks
}

// New creates an Orchestrator over the given collaborators.
func New(integrations integration.Store, adapters *source.Registry, upserter *ingest.Upserter,
	engine *prioritize.Engine, st store.Store, broker *events.Broker, logger log.Logger, opts Options,
) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	maxAlerts := opts.MaxAlerts
	if maxAlerts <= 0 {
		maxAlerts = DefaultMaxAlerts
	}
	return &Orchestrator{
		integrations: integrations,
		adapters:     adapters,
		upserter:     upserter,
		engine:       engine,
		store:        st,
		broker:       broker,
		logger:       logger,
		hooks:        opts.Hooks,
		workers:      workers,
		maxAlerts:    maxAlerts,
		now:          time.Now,
	}
}

// IntegrationResult is the outcome of one integration's sync pass.
type IntegrationResult struct {
	Integration string           `json:"integration"`
	Type        integration.Type `json:"type"`
	Processed   int              `json:"processed"`
	Errors      int              `json:"errors"`
}

// CycleResult is the outcome of a full sync cycle.
type CycleResult struct {
	Started        time.Time           `json:"started"`
	Finished       time.Time           `json:"finished"`
	TotalProcessed int                 `json:"total_processed"`
	TotalErrors    int                 `json:"total_errors"`
	Success        bool                `json:"success"`
	Integrations   []IntegrationResult `json:"integrations"`
}

// RunCycle syncs every active integration once. Only one cycle (or single
// sync) runs at a time; concurrent requests get ErrSyncInProgress. An
// integration whose fetch fails counts one error and the cycle moves on; a
// store failure or a canceled context aborts the cycle, returning the partial
// result alongside the error.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer o.running.Unlock()

	started := o.now()
	o.logger.Info(ctx, "starting sync cycle")

	active, err := o.integrations.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}

	res := &CycleResult{Started: started}
	var cycleErr error
	for _, in := range active {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}
		ir, err := o.syncIntegration(ctx, in)
		res.Integrations = append(res.Integrations, ir)
		res.TotalProcessed += ir.Processed
		res.TotalErrors += ir.Errors
		if err != nil {
			cycleErr = fmt.Errorf("sync %s: %w", in.Name, err)
			break
		}
	}

	res.Finished = o.now()
	res.Success = cycleErr == nil && res.TotalErrors == 0

	if o.hooks.OnCycle != nil {
		o.hooks.OnCycle(res.Finished.Sub(res.Started).Seconds(), !res.Success)
	}
	o.broker.Publish(ctx, events.SyncComplete, res)
	if cycleErr != nil {
		o.logger.Error(ctx, cycleErr, "sync cycle aborted",
			"processed", res.TotalProcessed,
			"errors", res.TotalErrors)
		return res, cycleErr
	}
	o.logger.Info(ctx, "sync cycle completed",
		"processed", res.TotalProcessed,
		"errors", res.TotalErrors,
		"duration", res.Finished.Sub(res.Started).String())
	return res, nil
}

// SyncOne runs an on-demand sync for a single integration, regardless of its
// active status. Shares the cycle lock with RunCycle.
func (o *Orchestrator) SyncOne(ctx context.Context, name string) (*IntegrationResult, error) {
	in, found, err := o.integrations.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownIntegration, name)
	}

	if !o.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer o.running.Unlock()

	ir, err := o.syncIntegration(ctx, in)
	if err != nil {
		return &ir, fmt.Errorf("sync %s: %w", in.Name, err)
	}
	return &ir, nil
}

// syncIntegration fetches, normalizes and upserts one integration's
// candidates, records the outcome on the integration and emits the
// integration-sync event. Adapter failures and malformed candidates become
// counts; a store failure cancels the remaining candidates and is returned.
func (o *Orchestrator) syncIntegration(ctx context.Context, in *integration.Integration) (IntegrationResult, error) {
	res := IntegrationResult{Integration: in.Name, Type: in.Type}
	L := o.logger.With("integration", in.Name, "type", string(in.Type))
	L.Info(ctx, "syncing integration")

	adapter, err := o.adapters.New(in)
	if err != nil {
		L.Error(ctx, err, "adapter construction failed")
		res.Errors = 1
		o.finishIntegration(ctx, in, res, nil)
		return res, nil
	}

	raws, err := adapter.Fetch(ctx, in.Settings.Filters)
	if err != nil {
		L.Error(ctx, err, "integration fetch failed")
		res.Errors = 1
		o.finishIntegration(ctx, in, res, nil)
		return res, nil
	}

	if max := o.candidateLimit(in); len(raws) > max {
		L.Warn(ctx, "clamping candidate batch", "fetched", len(raws), "max", max)
		raws = raws[:max]
	}

	var processed, failed atomic.Int64
	norm := normalize.New(adapter.Vocabulary())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, raw := range raws {
		g.Go(func() error {
			err := o.processCandidate(gctx, norm, in, raw)
			switch {
			case errors.Is(err, normalize.ErrMalformed):
				L.Warn(gctx, "skipping malformed candidate", "native_id", raw.NativeID, "error", err.Error())
				failed.Add(1)
				return nil
			case err != nil:
				return err
			}
			processed.Add(1)
			return nil
		})
	}
	fatal := g.Wait()

	res.Processed = int(processed.Load())
	res.Errors = int(failed.Load())
	o.finishIntegration(ctx, in, res, fatal)
	if fatal != nil {
		return res, fatal
	}
	return res, nil
}

func (o *Orchestrator) candidateLimit(in *integration.Integration) int {
	if in.Settings.MaxAlerts > 0 {
		return in.Settings.MaxAlerts
	}
	return o.maxAlerts
}

// processCandidate normalizes and upserts one candidate, then emits the
// created/updated event and, for new alerts, evaluates the notification
// threshold.
func (o *Orchestrator) processCandidate(ctx context.Context, norm *normalize.Normalizer, in *integration.Integration, raw *normalize.Raw) error {
	cand, err := norm.Normalize(raw)
	if err != nil {
		return err
	}

	outcome, applied, err := o.upserter.Apply(ctx, cand)
	if err != nil {
		return err
	}
	if o.hooks.OnAlert != nil {
		o.hooks.OnAlert(in.Name, string(outcome))
	}

	switch outcome {
	case ingest.OutcomeCreated:
		o.broker.Publish(ctx, events.AlertCreated, applied)
		if notify.ShouldNotify(applied, in) {
			if o.hooks.OnNotification != nil {
				o.hooks.OnNotification(in.Name)
			}
			o.broker.Publish(ctx, events.AlertNotification, &notify.Notification{
				Alert:       applied,
				Integration: in.Name,
				Severity:    applied.Severity,
				Channels:    in.Settings.Notifications.Channels,
			})
		}
	case ingest.OutcomeUpdated:
		o.broker.Publish(ctx, events.AlertUpdated, applied)
	}
	return nil
}

// finishIntegration writes the sync outcome back onto the integration and
// emits the integration-sync event. fatal, when set, is the error that
// aborted the pass.
func (o *Orchestrator) finishIntegration(ctx context.Context, in *integration.Integration, res IntegrationResult, fatal error) {
	status := integration.SyncStatus{
		Success:          fatal == nil && res.Errors == 0,
		Message:          "Sync completed successfully",
		RecordsProcessed: res.Processed,
	}
	if res.Errors > 0 {
		status.Message = fmt.Sprintf("Sync completed with %d errors", res.Errors)
		status.Errors = []string{fmt.Sprintf("%d alerts failed to process", res.Errors)}
	}
	if fatal != nil {
		status.Message = "Sync aborted: " + fatal.Error()
		status.Errors = append(status.Errors, fatal.Error())
	}

	if err := o.integrations.RecordSync(ctx, in.Name, o.now(), status); err != nil {
		o.logger.Error(ctx, err, "record sync status failed", "integration", in.Name)
	}
	if o.hooks.OnIntegration != nil {
		o.hooks.OnIntegration(in.Name, !status.Success)
	}
	o.broker.Publish(ctx, events.IntegrationSync, res)
}

// PrioritizationResult is the outcome of a batch re-ranking run.
type PrioritizationResult struct {
	AlertsProcessed int                  `json:"alerts_processed"`
	Rankings        []prioritize.Ranking `json:"rankings,omitempty"`
}

// PrioritizeAll re-ranks the most recent unresolved alerts in one batch and
// persists the new priorities.
func (o *Orchestrator) PrioritizeAll(ctx context.Context) (*PrioritizationResult, error) {
	alerts, err := o.store.List(ctx, store.Filter{
		Statuses: []alert.Status{alert.StatusOpen, alert.StatusInvestigating, alert.StatusInProgress},
		Limit:    prioritizeLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if len(alerts) == 0 {
		o.logger.Info(ctx, "no alerts to prioritize")
		return &PrioritizationResult{}, nil
	}

	rankings := o.engine.ScoreBatch(ctx, alerts)

	byID := make(map[string]*alert.Alert, len(alerts))
	for _, a := range alerts {
		byID[a.ExternalID] = a
	}
	for _, r := range rankings {
		a, ok := byID[r.ExternalID]
		if !ok {
			continue
		}
		a.Priority = r.Priority
		if a.Analysis == nil {
			a.Analysis = &alert.Analysis{RiskScore: r.Priority}
		}
		a.Analysis.RankingExplanation = r.Explanation
		if err := o.store.Update(ctx, a); err != nil {
			o.logger.Error(ctx, err, "persist ranking failed", "external_id", a.ExternalID)
		}
	}

	res := &PrioritizationResult{AlertsProcessed: len(alerts), Rankings: rankings}
	o.broker.Publish(ctx, events.PrioritizationComplete, res)
	o.logger.Info(ctx, "prioritization completed", "alerts", len(alerts))
	return res, nil
}

// RemediationPlans generates plans for high-priority unresolved alerts that
// do not have one yet. Per-alert failures are logged and skipped.
func (o *Orchestrator) RemediationPlans(ctx context.Context) (int, error) {
	alerts, err := o.store.List(ctx, store.Filter{
		Statuses:    []alert.Status{alert.StatusOpen, alert.StatusInvestigating},
		MinPriority: remediationFloor,
		Limit:       remediationLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("list alerts: %w", err)
	}

	generated := 0
	for _, a := range alerts {
		if a.Remediation != nil && a.Remediation.Plan != nil {
			continue
		}
		plan := o.engine.RemediationPlan(ctx, a)
		if a.Remediation == nil {
			a.Remediation = &alert.Remediation{}
		}
		a.Remediation.Plan = plan
		a.Remediation.AIGenerated = true
		if err := o.store.Update(ctx, a); err != nil {
			o.logger.Error(ctx, err, "persist remediation plan failed", "external_id", a.ExternalID)
			continue
		}
		generated++
	}

	o.logger.Info(ctx, "remediation plans generated", "count", generated)
	return generated, nil
}

// TestIntegration builds the adapter for a configured integration and runs
// its connectivity check.
func (o *Orchestrator) TestIntegration(ctx context.Context, name string) (*source.TestResult, error) {
	in, found, err := o.integrations.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownIntegration, name)
	}

	adapter, err := o.adapters.New(in)
	if err != nil {
		return nil, err
	}
	return adapter.TestConnection(ctx)
}
