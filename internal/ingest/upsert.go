// Package ingest resolves normalized candidates against the canonical store.
// It owns the per-field merge policy: a later sync pass must never clobber
// operator-entered state (status, assignee, comments), and exactly one
// stored alert exists per external ID.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/store"
)

// Outcome says whether Apply inserted a new alert or merged into an
// existing one.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
)

// Scorer produces the initial priority and analysis for newly created
// alerts. Satisfied by *prioritize.Engine.
type Scorer interface {
	ScoreOne(ctx context.Context, a *alert.Alert) (int, *alert.Analysis)
}

// Upserter applies candidates to the canonical store with per-external-id
// serialization.
type Upserter struct {
	store  store.Store
	scorer Scorer
	logger log.Logger
	locks  keyedMutex
	now    func() time.Time
}

// NewUpserter creates an Upserter. scorer may be nil, in which case new
// alerts keep their baseline priority and carry no analysis.
func NewUpserter(st store.Store, scorer Scorer, logger log.Logger) *Upserter {
	if logger == nil {
		logger = log.Nop()
	}
	return &Upserter{
		store:  st,
		scorer: scorer,
		logger: logger,
		now:    time.Now,
	}
}

// Apply resolves one candidate by external ID: inserts a new alert (scored
// through the prioritization engine) or merges into the existing one.
// Concurrent calls for the same external ID are serialized; a store error is
// returned to the caller and aborts nothing else.
func (u *Upserter) Apply(ctx context.Context, cand *alert.Alert) (Outcome, *alert.Alert, error) {
	if cand.ExternalID == "" {
		return "", nil, fmt.Errorf("apply: candidate has no external id")
	}

	unlock := u.locks.lock(cand.ExternalID)
	defer unlock()

	existing, found, err := u.store.GetByExternalID(ctx, cand.ExternalID)
	if err != nil {
		return "", nil, fmt.Errorf("lookup %s: %w", cand.ExternalID, err)
	}

	now := u.now()

	if !found {
		a := cand.Clone()
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
		if a.Status == "" {
			a.Status = alert.StatusOpen
		}
		if a.Status == alert.StatusResolved && a.ResolvedAt == nil {
			a.ResolvedAt = &now
		}

		if u.scorer != nil {
			priority, analysis := u.scorer.ScoreOne(ctx, a)
			a.Priority = priority
			a.Analysis = analysis
		}

		if err := u.store.Insert(ctx, a); err != nil {
			return "", nil, fmt.Errorf("insert %s: %w", a.ExternalID, err)
		}
		return OutcomeCreated, a, nil
	}

	merged := merge(existing, cand, now)
	if err := u.store.Update(ctx, merged); err != nil {
		return "", nil, fmt.Errorf("update %s: %w", merged.ExternalID, err)
	}
	return OutcomeUpdated, merged, nil
}

// merge applies the per-field policy: scalars and sub-records are
// overwritten by the incoming candidate, comments append, tags union,
// operator state survives unless the source carried a terminal disposition.
func merge(existing, incoming *alert.Alert, now time.Time) *alert.Alert {
	out := existing.Clone()

	out.Title = incoming.Title
	out.Description = incoming.Description
	out.Severity = incoming.Severity
	out.Category = incoming.Category
	out.Priority = incoming.Priority

	if incoming.Asset != nil {
		out.Asset = incoming.Asset
	}
	if incoming.Vulnerability != nil {
		out.Vulnerability = incoming.Vulnerability
	}
	if incoming.Threat != nil {
		out.Threat = incoming.Threat
	}
	if incoming.Detection != nil {
		out.Detection = incoming.Detection
	}
	if incoming.Remediation != nil {
		// keep any AI-generated plan unless the source replaces it
		rem := *incoming.Remediation
		if rem.Plan == nil && out.Remediation != nil {
			rem.Plan = out.Remediation.Plan
			rem.AIGenerated = out.Remediation.AIGenerated
		}
		out.Remediation = &rem
	}

	out.Tags = unionTags(out.Tags, incoming.Tags)
	out.Comments = append(out.Comments, incoming.Comments...)

	if incoming.Status.Terminal() && incoming.Status != out.Status {
		if incoming.Status == alert.StatusResolved {
			out.ResolvedAt = &now
		}
		out.Status = incoming.Status
	}

	if incoming.Assignee != nil && out.Assignee == nil {
		out.Assignee = incoming.Assignee
	}

	// created_at is immutable, updated_at never goes backwards
	out.CreatedAt = existing.CreatedAt
	if now.After(out.UpdatedAt) {
		out.UpdatedAt = now
	}

	return out
}

func unionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range incoming {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
