// Package memstore provides an in-memory implementation of store.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/store"
)

// Store holds alerts in memory, keyed by external ID. Suitable for dev and
// testing; all methods copy on the way in and out.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]*alert.Alert
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{alerts: make(map[string]*alert.Alert)}
}

// GetByExternalID retrieves an alert by external ID. Returns a copy.
func (s *Store) GetByExternalID(_ context.Context, externalID string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[externalID]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// Insert stores a copy of a new alert.
func (s *Store) Insert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[a.ExternalID]; exists {
		return fmt.Errorf("insert %s: already exists", a.ExternalID)
	}
	s.alerts[a.ExternalID] = a.Clone()
	return nil
}

// Update replaces the stored alert with the same external ID.
func (s *Store) Update(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[a.ExternalID]; !exists {
		return fmt.Errorf("update %s: %w", a.ExternalID, store.ErrNotFound)
	}
	s.alerts[a.ExternalID] = a.Clone()
	return nil
}

// List returns matching alerts ordered by priority desc, created_at desc.
func (s *Store) List(_ context.Context, f store.Filter) ([]*alert.Alert, error) {
	s.mu.RLock()
	out := make([]*alert.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if matches(a, f) {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(a *alert.Alert, f store.Filter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if a.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.Source != "" && a.Source != f.Source {
		return false
	}
	if f.MinPriority > 0 && a.Priority < f.MinPriority {
		return false
	}
	return true
}
