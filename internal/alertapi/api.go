// Package alertapi exposes the HTTP surface: alert reads, sync control,
// integration management and the server-sent event stream.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/integration"
	"github.com/linnemanlabs/aegis/internal/source"
	"github.com/linnemanlabs/aegis/internal/store"
	"github.com/linnemanlabs/aegis/internal/syncer"
)

// SyncService defines the orchestration operations alertapi needs.
// Satisfied by *syncer.Orchestrator.
type SyncService interface {
	RunCycle(ctx context.Context) (*syncer.CycleResult, error)
	SyncOne(ctx context.Context, name string) (*syncer.IntegrationResult, error)
	PrioritizeAll(ctx context.Context) (*syncer.PrioritizationResult, error)
	TestIntegration(ctx context.Context, name string) (*source.TestResult, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger       log.Logger
	store        store.Store
	integrations integration.Store
	svc          SyncService
	broker       *events.Broker
}

// New creates a new API handler.
func New(logger log.Logger, st store.Store, integrations integration.Store, svc SyncService, broker *events.Broker) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if st == nil {
		panic(xerrors.New("alert store is required"))
	}
	if svc == nil {
		panic(xerrors.New("sync service is required"))
	}
	return &API{
		logger:       logger,
		store:        st,
		integrations: integrations,
		svc:          svc,
		broker:       broker,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)

		r.Post("/sync", a.handleSync)
		r.Post("/prioritize", a.handlePrioritize)

		r.Get("/integrations", a.handleListIntegrations)
		r.Post("/integrations/{name}/sync", a.handleSyncIntegration)
		r.Post("/integrations/{name}/test", a.handleTestIntegration)

		r.Get("/events", a.handleEvents)
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
