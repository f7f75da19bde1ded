package alertapi

import (
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/store"
)

const defaultListLimit = 100

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	alerts, lerr := a.store.List(r.Context(), f)
	if lerr != nil {
		a.logger.Error(r.Context(), lerr, "failed to list alerts")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aegis.alert.external_id", id))

	al, ok, err := a.store.GetByExternalID(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "external_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("aegis.alert.severity", string(al.Severity)))
	a.writeJSON(w, http.StatusOK, al)
}

// parseFilter builds a store filter from query parameters. Invalid enum
// values are rejected rather than silently matching nothing.
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{Limit: defaultListLimit}

	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.Statuses = append(f.Statuses, alert.Status(strings.TrimSpace(s)))
		}
	}
	if v := q.Get("severity"); v != "" {
		sev := alert.Severity(v)
		if !sev.Valid() {
			return f, errInvalidParam("severity")
		}
		f.Severity = sev
	}
	if v := q.Get("category"); v != "" {
		f.Category = alert.Category(v)
	}
	if v := q.Get("source"); v != "" {
		f.Source = alert.Source(v)
	}
	if v := q.Get("min_priority"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			return f, errInvalidParam("min_priority")
		}
		f.MinPriority = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, errInvalidParam("limit")
		}
		f.Limit = n
	}
	return f, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "invalid " + string(e) }
