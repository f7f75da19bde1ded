package tenable

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/integration"
)

const workbenchResponse = `{
  "vulnerabilities": [
    {
      "plugin_id": 51192,
      "plugin_name": "SSL Certificate Cannot Be Trusted",
      "description": "The server's X.509 certificate cannot be trusted.",
      "severity": 2,
      "cve": "CVE-2020-0001",
      "cvss_base_score": 6.4,
      "exploit_available": true,
      "hostname": "web-1.internal",
      "ip_address": "10.0.0.5",
      "operating_system": "Ubuntu 22.04",
      "first_found": "2026-01-10T08:00:00Z",
      "last_found": "2026-02-20T08:00:00Z",
      "vuln_count": 3,
      "solution": "Purchase or generate a proper SSL certificate.",
      "see_also": ["https://example.test/ssl"]
    },
    {
      "plugin_id": 10863,
      "plugin_name": "SSL Certificate Information",
      "synopsis": "This plugin displays the SSL certificate.",
      "severity": 0,
      "ip_address": "10.0.0.6",
      "vuln_count": 0
    }
  ]
}`

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Adapter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := New(&integration.TenableConfig{
		AccessKey: "ak",
		SecretKey: "sk",
		BaseURL:   srv.URL,
	})
	return srv, a
}

func TestFetch(t *testing.T) {
	t.Parallel()

	_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workbenches/vulnerabilities" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if keys := r.Header.Get("X-ApiKeys"); !strings.Contains(keys, "accessKey=ak") || !strings.Contains(keys, "secretKey=sk") {
			t.Errorf("X-ApiKeys = %q", keys)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(workbenchResponse))
	})

	raws, err := a.Fetch(context.Background(), integration.Filters{Limit: 50})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("Fetch() = %d candidates, want 2", len(raws))
	}

	first := raws[0]
	if first.NativeID != "51192" {
		t.Errorf("NativeID = %q", first.NativeID)
	}
	if first.Title != "SSL Certificate Cannot Be Trusted" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Severity != "2" {
		t.Errorf("Severity token = %q", first.Severity)
	}
	if first.Asset == nil || first.Asset.Name != "web-1.internal" || first.Asset.IP != "10.0.0.5" {
		t.Errorf("Asset = %+v", first.Asset)
	}
	if first.Vulnerability == nil || first.Vulnerability.CVE != "CVE-2020-0001" || !first.Vulnerability.ExploitAvailable {
		t.Errorf("Vulnerability = %+v", first.Vulnerability)
	}
	if first.Detection == nil || first.Detection.Count != 3 {
		t.Errorf("Detection = %+v", first.Detection)
	}
	if first.Remediation == nil || len(first.Remediation.Steps) != 1 {
		t.Errorf("Remediation = %+v", first.Remediation)
	}
	if first.FirstSeen.IsZero() || first.LastSeen.IsZero() {
		t.Error("first/last seen should be parsed")
	}

	// Synopsis fills in for an absent description; IP fills in for the name.
	second := raws[1]
	if second.Description != "This plugin displays the SSL certificate." {
		t.Errorf("Description = %q", second.Description)
	}
	if second.Asset.Name != "10.0.0.6" {
		t.Errorf("Asset.Name = %q, want IP fallback", second.Asset.Name)
	}
	if second.Detection.Count != 1 {
		t.Errorf("Count = %d, want floor of 1", second.Detection.Count)
	}
}

func TestFetch_SeverityFilterForwarded(t *testing.T) {
	t.Parallel()

	_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["filter.severity"]; len(got) != 2 {
			t.Errorf("filter.severity = %v", got)
		}
		_, _ = w.Write([]byte(`{"vulnerabilities":[]}`))
	})

	raws, err := a.Fetch(context.Background(), integration.Filters{Severities: []string{"critical", "high"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 0 {
		t.Errorf("Fetch() = %d candidates, want 0", len(raws))
	}
}

func TestFetch_APIError(t *testing.T) {
	t.Parallel()

	_, a := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := a.Fetch(context.Background(), integration.Filters{})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Fetch() err = %v, want api error", err)
	}
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		_, a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/scanners" {
				t.Errorf("path = %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{"scanners":[{}]}`))
		})

		res, err := a.TestConnection(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success {
			t.Errorf("res = %+v", res)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		t.Parallel()
		_, a := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})

		res, err := a.TestConnection(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if res.Success {
			t.Error("TestConnection should report failure, not error")
		}
	})
}

func TestVocabulary(t *testing.T) {
	t.Parallel()

	v := New(&integration.TenableConfig{}).Vocabulary()
	if v.Source != alert.SourceTenable {
		t.Errorf("Source = %q", v.Source)
	}
	if v.Severities["4"] != alert.SeverityCritical || v.Severities["0"] != alert.SeverityInfo {
		t.Errorf("Severities = %v", v.Severities)
	}
	if v.DefaultSeverity != alert.SeverityLow {
		t.Errorf("DefaultSeverity = %q", v.DefaultSeverity)
	}
	if v.DefaultCategory != alert.CategoryVulnerability {
		t.Errorf("DefaultCategory = %q", v.DefaultCategory)
	}
}

func TestFactory(t *testing.T) {
	t.Parallel()

	_, err := Factory(&integration.Integration{Name: "x", Type: integration.TypeTenable})
	if err == nil {
		t.Error("Factory without tenable config should fail")
	}

	a, err := Factory(&integration.Integration{
		Name:   "x",
		Type:   integration.TypeTenable,
		Config: integration.Config{Tenable: &integration.TenableConfig{AccessKey: "a", SecretKey: "s"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Source() != alert.SourceTenable {
		t.Errorf("Source = %q", a.Source())
	}
}
