package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hut8/soar-ingest/internal/security"
)

type fakeSuppression struct {
	types, categories []string
}

func (f *fakeSuppression) SuppressionConfig() ([]string, []string) {
	return f.types, f.categories
}

func (f *fakeSuppression) SetSuppressionConfig(types, categories []string) {
	f.types = types
	f.categories = categories
}

type fakeQueues struct{ depths map[string]int }

func (f *fakeQueues) Depths() map[string]int { return f.depths }

func TestHealthzReportsQueueDepths(t *testing.T) {
	r := New(nil, &fakeQueues{depths: map[string]int{"ogn": 3}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
}

func TestGetSuppressReturnsCurrentConfig(t *testing.T) {
	s := &fakeSuppression{types: []string{"OGN_STATUS"}, categories: []string{"unknown"}}
	r := New(s, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/suppress", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload suppressionPayload
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Types) != 1 || payload.Types[0] != "OGN_STATUS" {
		t.Fatalf("types: got %v", payload.Types)
	}
}

func TestPostSuppressRequiresBearerToken(t *testing.T) {
	security.Configure("test-secret-do-not-use-in-prod", "")
	s := &fakeSuppression{}
	r := New(s, nil)

	body := `{"suppressed_types":["OGN_STATUS"],"suppressed_categories":[]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/suppress", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}
}

func TestPostSuppressUpdatesConfigWithValidToken(t *testing.T) {
	security.Configure("test-secret-do-not-use-in-prod", "")
	tok, err := security.IssueToken("admin", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	s := &fakeSuppression{}
	r := New(s, nil)

	body := `{"suppressed_types":["OGN_STATUS"],"suppressed_categories":["unknown"]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/suppress", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(s.types) != 1 || s.types[0] != "OGN_STATUS" {
		t.Fatalf("expected suppression config updated, got %v", s.types)
	}
}
