// Package store defines the persistence interface for canonical alerts.
// Implementations live in memstore (dev/testing) and pgstore (PostgreSQL).
package store

import (
	"context"
	"errors"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// ErrNotFound is returned by Update when no alert exists for the external ID.
var ErrNotFound = errors.New("alert not found")

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Statuses    []alert.Status
	Severity    alert.Severity
	Category    alert.Category
	Source      alert.Source
	MinPriority int
	Limit       int
}

// Store is the canonical alert store. All writes go through the ingest
// package's per-external-id serialization; implementations only need to be
// safe for concurrent use, not to dedup.
type Store interface {
	// GetByExternalID returns the alert for the given external ID, if any.
	GetByExternalID(ctx context.Context, externalID string) (*alert.Alert, bool, error)

	// Insert stores a new alert. The external ID must not already exist.
	Insert(ctx context.Context, a *alert.Alert) error

	// Update replaces the stored alert with the same external ID.
	Update(ctx context.Context, a *alert.Alert) error

	// List returns alerts matching the filter, ordered by priority
	// descending then created_at descending.
	List(ctx context.Context, f Filter) ([]*alert.Alert, error)
}
