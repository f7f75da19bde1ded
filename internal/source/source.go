// Package source defines the capability interface for vendor detection
// tools and a registry that dispatches typed integration configuration to
// the matching adapter implementation.
package source

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/integration"
	"github.com/linnemanlabs/aegis/internal/normalize"
)

// TestResult is the outcome of an adapter connectivity check.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Adapter is one vendor connection. Fetch returns raw candidates for the
// normalizer; wire formats and auth never leave the adapter package.
type Adapter interface {
	Source() alert.Source
	Vocabulary() normalize.Vocabulary
	Fetch(ctx context.Context, filters integration.Filters) ([]*normalize.Raw, error)
	TestConnection(ctx context.Context) (*TestResult, error)
}

// Factory builds an adapter from a validated integration's configuration.
type Factory func(in *integration.Integration) (Adapter, error)

// Registry maps integration types to adapter factories.
type Registry struct {
	factories map[integration.Type]Factory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[integration.Type]Factory)}
}

// Register adds a factory for an integration type.
func (r *Registry) Register(t integration.Type, f Factory) {
	r.factories[t] = f
}

// Types returns the registered integration types.
func (r *Registry) Types() []integration.Type {
	out := make([]integration.Type, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}

// New builds the adapter for an integration, or an error when its type has
// no registered factory.
func (r *Registry) New(in *integration.Integration) (Adapter, error) {
	f, ok := r.factories[in.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported integration type %q", in.Type)
	}
	return f(in)
}
