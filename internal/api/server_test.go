package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fernwatch/camtrap/internal/config"
	"github.com/fernwatch/camtrap/internal/recovery"
)

func newTestServer(t *testing.T, store *recovery.Store) *WebServer {
	t.Helper()
	return NewWebServer(WebServerConfig{
		Address: "127.0.0.1:0",
		Store:   store,
		Config:  config.Empty(),
	})
}

func get(t *testing.T, ws *WebServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ws.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("health status = %q, want ok", body["status"])
	}
}

func TestConfigEndpointServesEffectiveValues(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("config returned %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("config body not JSON: %v", err)
	}
	if body["framerate"] != float64(20) {
		t.Fatalf("config framerate = %v, want 20", body["framerate"])
	}
	if body["priority_aggregate"] != "max" {
		t.Fatalf("config priority_aggregate = %v, want max", body["priority_aggregate"])
	}
}

func TestStatusWithoutPipelineReturns503(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/status")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status returned %d, want 503", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("error body missing error field")
	}
}

func TestEventsEndpointListsStore(t *testing.T) {
	dir := t.TempDir()
	store, err := recovery.Open(filepath.Join(dir, "camtrap.db"), filepath.Join(dir, "spool"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rec := get(t, newTestServer(t, store), "/api/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("events returned %d", rec.Code)
	}

	var summaries []recovery.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("events body not JSON: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("fresh store listed %d events", len(summaries))
	}
}

func TestEventsRejectsPost(t *testing.T) {
	ws := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	rec := httptest.NewRecorder()
	ws.setupRoutes().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST events returned %d, want 405", rec.Code)
	}
}

func TestStatusCodeColor(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{301, colorYellow + "301" + colorReset},
		{500, colorBoldRed + "500" + colorReset},
		{100, "100"},
	}
	for _, tc := range cases {
		if got := statusCodeColor(tc.code); got != tc.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}
