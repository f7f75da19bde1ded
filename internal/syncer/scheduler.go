package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultSyncInterval is how often a full sync cycle runs.
	DefaultSyncInterval = 15 * time.Minute

	// DefaultPrioritizeInterval is how often the batch re-ranking runs.
	DefaultPrioritizeInterval = time.Hour

	// DefaultRemediationInterval is how often remediation plan generation
	// runs for high-priority alerts.
	DefaultRemediationInterval = 4 * time.Hour
)

// Scheduler drives the orchestrator on fixed intervals. A tick that finds a
// cycle already running is skipped, not queued.
type Scheduler struct {
	orch   *Orchestrator
	logger log.Logger

	syncEvery        time.Duration
	prioritizeEvery  time.Duration
	remediationEvery time.Duration
}

// SchedulerOptions tunes the intervals. Zero values take the defaults.
type SchedulerOptions struct {
	SyncInterval        time.Duration
	PrioritizeInterval  time.Duration
	RemediationInterval time.Duration
}

// NewScheduler creates a Scheduler for the orchestrator.
func NewScheduler(orch *Orchestrator, logger log.Logger, opts SchedulerOptions) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Scheduler{
		orch:             orch,
		logger:           logger,
		syncEvery:        opts.SyncInterval,
		prioritizeEvery:  opts.PrioritizeInterval,
		remediationEvery: opts.RemediationInterval,
	}
	if s.syncEvery <= 0 {
		s.syncEvery = DefaultSyncInterval
	}
	if s.prioritizeEvery <= 0 {
		s.prioritizeEvery = DefaultPrioritizeInterval
	}
	if s.remediationEvery <= 0 {
		s.remediationEvery = DefaultRemediationInterval
	}
	return s
}

// Run blocks until ctx is canceled, firing the periodic jobs. An initial
// sync cycle runs immediately on start.
func (s *Scheduler) Run(ctx context.Context) {
	s.runSync(ctx)

	syncTick := time.NewTicker(s.syncEvery)
	defer syncTick.Stop()
	prioritizeTick := time.NewTicker(s.prioritizeEvery)
	defer prioritizeTick.Stop()
	remediationTick := time.NewTicker(s.remediationEvery)
	defer remediationTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTick.C:
			s.runSync(ctx)
		case <-prioritizeTick.C:
			if _, err := s.orch.PrioritizeAll(ctx); err != nil {
				s.logger.Error(ctx, err, "scheduled prioritization failed")
			}
		case <-remediationTick.C:
			if _, err := s.orch.RemediationPlans(ctx); err != nil {
				s.logger.Error(ctx, err, "scheduled remediation generation failed")
			}
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	_, err := s.orch.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Warn(ctx, "skipping scheduled sync, previous cycle still running")
	case err != nil:
		s.logger.Error(ctx, err, "scheduled sync cycle failed")
	}
}
