package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/integration"
	"github.com/linnemanlabs/aegis/internal/source"
	"github.com/linnemanlabs/aegis/internal/store/memstore"
	"github.com/linnemanlabs/aegis/internal/syncer"
)

type stubSyncService struct {
	cycleRes   *syncer.CycleResult
	cycleErr   error
	syncOneRes *syncer.IntegrationResult
	syncOneErr error
	prioRes    *syncer.PrioritizationResult
	prioErr    error
	testRes    *source.TestResult
	testErr    error
}

func (s *stubSyncService) RunCycle(context.Context) (*syncer.CycleResult, error) {
	return s.cycleRes, s.cycleErr
}

func (s *stubSyncService) SyncOne(_ context.Context, _ string) (*syncer.IntegrationResult, error) {
	return s.syncOneRes, s.syncOneErr
}

func (s *stubSyncService) PrioritizeAll(context.Context) (*syncer.PrioritizationResult, error) {
	return s.prioRes, s.prioErr
}

func (s *stubSyncService) TestIntegration(_ context.Context, _ string) (*source.TestResult, error) {
	return s.testRes, s.testErr
}

func newTestServer(t *testing.T, st *memstore.Store, reg *integration.Registry, svc SyncService) *httptest.Server {
	t.Helper()
	if st == nil {
		st = memstore.New()
	}
	if reg == nil {
		reg = integration.NewRegistry()
	}
	if svc == nil {
		svc = &stubSyncService{}
	}

	api := New(nil, st, reg, svc, nil)
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func seedStore(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	now := time.Now()
	seed := []*alert.Alert{
		{ExternalID: "tenable_1", Source: alert.SourceTenable, Title: "ssl cert expired",
			Severity: alert.SeverityCritical, Status: alert.StatusOpen,
			Category: alert.CategoryVulnerability, Priority: 10, CreatedAt: now, UpdatedAt: now},
		{ExternalID: "splunk_1", Source: alert.SourceSplunk, Title: "beaconing detected",
			Severity: alert.SeverityHigh, Status: alert.StatusInvestigating,
			Category: alert.CategoryThreat, Priority: 8, CreatedAt: now, UpdatedAt: now},
		{ExternalID: "tenable_2", Source: alert.SourceTenable, Title: "weak cipher",
			Severity: alert.SeverityLow, Status: alert.StatusResolved,
			Category: alert.CategoryVulnerability, Priority: 2, CreatedAt: now, UpdatedAt: now},
	}
	for _, a := range seed {
		if err := st.Insert(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestListAlerts(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedStore(t), nil, nil)

	var body struct {
		Alerts []*alert.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/alerts", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 3 || len(body.Alerts) != 3 {
		t.Fatalf("count = %d, want 3", body.Count)
	}
	// Priority desc ordering.
	if body.Alerts[0].ExternalID != "tenable_1" {
		t.Errorf("first alert = %s, want tenable_1", body.Alerts[0].ExternalID)
	}
}

func TestListAlerts_Filters(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedStore(t), nil, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"by status", "?status=open", []string{"tenable_1"}},
		{"status list", "?status=open,investigating", []string{"tenable_1", "splunk_1"}},
		{"by severity", "?severity=high", []string{"splunk_1"}},
		{"by source", "?source=tenable", []string{"tenable_1", "tenable_2"}},
		{"by category", "?category=threat", []string{"splunk_1"}},
		{"min priority", "?min_priority=8", []string{"tenable_1", "splunk_1"}},
		{"limit", "?limit=1", []string{"tenable_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var body struct {
				Alerts []*alert.Alert `json:"alerts"`
			}
			if code := getJSON(t, srv.URL+"/api/v1/alerts"+tt.query, &body); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if len(body.Alerts) != len(tt.want) {
				t.Fatalf("got %d alerts, want %d", len(body.Alerts), len(tt.want))
			}
			for i, id := range tt.want {
				if body.Alerts[i].ExternalID != id {
					t.Errorf("alert[%d] = %s, want %s", i, body.Alerts[i].ExternalID, id)
				}
			}
		})
	}
}

func TestListAlerts_BadParams(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedStore(t), nil, nil)

	for _, query := range []string{
		"?severity=bogus",
		"?min_priority=0",
		"?min_priority=11",
		"?min_priority=abc",
		"?limit=0",
		"?limit=x",
	} {
		if code := getJSON(t, srv.URL+"/api/v1/alerts"+query, nil); code != http.StatusBadRequest {
			t.Errorf("GET alerts%s status = %d, want 400", query, code)
		}
	}
}

func TestGetAlert(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, seedStore(t), nil, nil)

	var got alert.Alert
	if code := getJSON(t, srv.URL+"/api/v1/alerts/tenable_1", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Title != "ssl cert expired" {
		t.Errorf("Title = %q", got.Title)
	}

	if code := getJSON(t, srv.URL+"/api/v1/alerts/ghost", nil); code != http.StatusNotFound {
		t.Errorf("missing alert status = %d, want 404", code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	t.Parallel()

	svc := &stubSyncService{
		cycleRes: &syncer.CycleResult{TotalProcessed: 5, Success: true},
	}
	srv := newTestServer(t, nil, nil, svc)

	var res syncer.CycleResult
	if code := postJSON(t, srv.URL+"/api/v1/sync", &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.TotalProcessed != 5 || !res.Success {
		t.Errorf("res = %+v", res)
	}
}

func TestSyncEndpoint_Conflict(t *testing.T) {
	t.Parallel()

	svc := &stubSyncService{cycleErr: syncer.ErrSyncInProgress}
	srv := newTestServer(t, nil, nil, svc)

	if code := postJSON(t, srv.URL+"/api/v1/sync", nil); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestSyncEndpoint_Error(t *testing.T) {
	t.Parallel()

	svc := &stubSyncService{cycleErr: errors.New("boom")}
	srv := newTestServer(t, nil, nil, svc)

	if code := postJSON(t, srv.URL+"/api/v1/sync", nil); code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", code)
	}
}

func TestSyncIntegrationEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		svc := &stubSyncService{syncOneRes: &syncer.IntegrationResult{Integration: "tenable-prod", Processed: 3}}
		srv := newTestServer(t, nil, nil, svc)

		var res syncer.IntegrationResult
		if code := postJSON(t, srv.URL+"/api/v1/integrations/tenable-prod/sync", &res); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if res.Processed != 3 {
			t.Errorf("Processed = %d", res.Processed)
		}
	})

	t.Run("unknown integration", func(t *testing.T) {
		t.Parallel()
		svc := &stubSyncService{syncOneErr: fmt.Errorf("%w %q", syncer.ErrUnknownIntegration, "ghost")}
		srv := newTestServer(t, nil, nil, svc)

		if code := postJSON(t, srv.URL+"/api/v1/integrations/ghost/sync", nil); code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", code)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		svc := &stubSyncService{syncOneErr: errors.New("sync tenable-prod: lookup tenable_1: connection refused")}
		srv := newTestServer(t, nil, nil, svc)

		if code := postJSON(t, srv.URL+"/api/v1/integrations/tenable-prod/sync", nil); code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", code)
		}
	})

	t.Run("busy", func(t *testing.T) {
		t.Parallel()
		svc := &stubSyncService{syncOneErr: syncer.ErrSyncInProgress}
		srv := newTestServer(t, nil, nil, svc)

		if code := postJSON(t, srv.URL+"/api/v1/integrations/tenable-prod/sync", nil); code != http.StatusConflict {
			t.Errorf("status = %d, want 409", code)
		}
	})
}

func TestTestIntegrationEndpoint(t *testing.T) {
	t.Parallel()

	svc := &stubSyncService{testRes: &source.TestResult{Success: true, Message: "connected"}}
	srv := newTestServer(t, nil, nil, svc)

	var res source.TestResult
	if code := postJSON(t, srv.URL+"/api/v1/integrations/tenable-prod/test", &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !res.Success || res.Message != "connected" {
		t.Errorf("res = %+v", res)
	}
}

func TestPrioritizeEndpoint(t *testing.T) {
	t.Parallel()

	svc := &stubSyncService{prioRes: &syncer.PrioritizationResult{AlertsProcessed: 7}}
	srv := newTestServer(t, nil, nil, svc)

	var res syncer.PrioritizationResult
	if code := postJSON(t, srv.URL+"/api/v1/prioritize", &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.AlertsProcessed != 7 {
		t.Errorf("AlertsProcessed = %d", res.AlertsProcessed)
	}
}

func TestListIntegrationsEndpoint(t *testing.T) {
	t.Parallel()

	reg := integration.NewRegistry()
	err := reg.Add(&integration.Integration{
		Name:   "splunk-prod",
		Type:   integration.TypeSplunk,
		Status: integration.StatusActive,
		Config: integration.Config{Splunk: &integration.SplunkConfig{Host: "h", Token: "t"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, nil, reg, nil)

	var body struct {
		Integrations []*integration.Integration `json:"integrations"`
		Count        int                        `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/integrations", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 1 || body.Integrations[0].Name != "splunk-prod" {
		t.Errorf("body = %+v", body)
	}
}

func TestEventsEndpoint_NoBroker(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, nil, nil)
	if code := getJSON(t, srv.URL+"/api/v1/events", nil); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	assertPanics := func(name string, fn func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		fn()
	}

	assertPanics("nil store", func() {
		New(nil, nil, integration.NewRegistry(), &stubSyncService{}, nil)
	})
	assertPanics("nil sync service", func() {
		New(nil, memstore.New(), integration.NewRegistry(), nil, nil)
	})
}

func TestErrInvalidParam(t *testing.T) {
	t.Parallel()

	err := errInvalidParam("limit")
	if !strings.Contains(err.Error(), "invalid limit") {
		t.Errorf("Error() = %q", err.Error())
	}
}
