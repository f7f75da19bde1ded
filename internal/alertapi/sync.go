package alertapi

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/aegis/internal/integration"
	"github.com/linnemanlabs/aegis/internal/syncer"
)

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.RunCycle(r.Context())
	if errors.Is(err, syncer.ErrSyncInProgress) {
		http.Error(w, `{"error":"sync already in progress"}`, http.StatusConflict)
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "sync cycle failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSyncIntegration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aegis.integration", name))

	res, err := a.svc.SyncOne(r.Context(), name)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		http.Error(w, `{"error":"sync already in progress"}`, http.StatusConflict)
		return
	case errors.Is(err, syncer.ErrUnknownIntegration):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "integration sync failed", "integration", name)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) handleTestIntegration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aegis.integration", name))

	res, err := a.svc.TestIntegration(r.Context(), name)
	switch {
	case errors.Is(err, syncer.ErrUnknownIntegration):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Warn(r.Context(), "integration test failed", "integration", name, "error", err.Error())
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePrioritize(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.PrioritizeAll(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "prioritization failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	active, err := a.integrations.ListActive(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list integrations")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if active == nil {
		active = []*integration.Integration{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"integrations": active,
		"count":        len(active),
	})
}
