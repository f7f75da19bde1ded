package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Store is what the sync orchestrator needs from integration configuration:
// read the active set, write back sync outcomes.
type Store interface {
	ListActive(ctx context.Context) ([]*Integration, error)
	Get(ctx context.Context, name string) (*Integration, bool, error)
	RecordSync(ctx context.Context, name string, at time.Time, status SyncStatus) error
}

// Registry is an in-memory Store seeded from a YAML file. Sync outcomes are
// held in memory only; integration configuration itself is operator-managed
// and never written by the core.
type Registry struct {
	mu           sync.RWMutex
	integrations map[string]*Integration
	order        []string
}

type seedFile struct {
	Integrations []*Integration `yaml:"integrations"`
}

// LoadFile parses a YAML seed file and returns a populated Registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("read integrations file: %w", err)
	}
	return Load(data)
}

// Load parses YAML seed data and returns a populated Registry.
func Load(data []byte) (*Registry, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse integrations: %w", err)
	}

	r := NewRegistry()
	for _, in := range f.Integrations {
		if err := r.Add(in); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{integrations: make(map[string]*Integration)}
}

// Add validates and registers an integration. Notification thresholds
// default to the stock set when notifications are enabled without any.
func (r *Registry) Add(in *Integration) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if in.Settings.Notifications.Enabled && len(in.Settings.Notifications.Thresholds) == 0 {
		in.Settings.Notifications.Thresholds = DefaultThresholds()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.integrations[in.Name]; exists {
		return fmt.Errorf("duplicate integration %q", in.Name)
	}
	r.integrations[in.Name] = in.clone()
	r.order = append(r.order, in.Name)
	return nil
}

// ListActive returns copies of all integrations with status active, in
// seed-file order.
func (r *Registry) ListActive(_ context.Context) ([]*Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Integration
	for _, name := range r.order {
		if in := r.integrations[name]; in.Status == StatusActive {
			out = append(out, in.clone())
		}
	}
	return out, nil
}

// Get returns a copy of the named integration.
func (r *Registry) Get(_ context.Context, name string) (*Integration, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.integrations[name]
	if !ok {
		return nil, false, nil
	}
	return in.clone(), true, nil
}

// RecordSync writes the last_sync timestamp and sync_status for one
// integration.
func (r *Registry) RecordSync(_ context.Context, name string, at time.Time, status SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.integrations[name]
	if !ok {
		return fmt.Errorf("record sync: unknown integration %q", name)
	}
	in.LastSync = &at
	st := status
	st.Errors = append([]string(nil), status.Errors...)
	in.SyncStatus = &st
	return nil
}
