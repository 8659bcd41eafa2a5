package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/quotagate/pkg/config"
	"github.com/kadirpekel/quotagate/pkg/denylist"
	"github.com/kadirpekel/quotagate/pkg/quota"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Limits: []config.RouteLimit{
			{Path: "user/{user_id}", Tiers: []config.TierLimit{{Seconds: 60, Quota: 2}}},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, store quota.Store) *Server {
	t.Helper()
	cfg := testConfig()

	table, err := quota.NewTable(cfg.Limits)
	if err != nil {
		t.Fatalf("Failed to build route table: %v", err)
	}
	return NewServer(cfg, quota.NewCoordinator(table, store))
}

func postAdmit(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/admit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestServer_AdmitFlow(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	// The tier admits two units back to back, then rejects
	for i := 0; i < 2; i++ {
		rr := postAdmit(t, handler, `{"context":{"user_id":"42"}}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d (%s)", i+1, rr.Code, rr.Body.String())
		}
		if body := decodeBody(t, rr); body["admitted"] != true {
			t.Errorf("request %d: expected admitted=true, got %v", i+1, body)
		}
	}

	rr := postAdmit(t, handler, `{"context":{"user_id":"42"}}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d (%s)", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["admitted"] != false {
		t.Errorf("expected admitted=false, got %v", body)
	}

	// A different principal has its own budget
	rr = postAdmit(t, handler, `{"context":{"user_id":"other"}}`)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for fresh principal, got %d", rr.Code)
	}
}

func TestServer_AdmitNoMatchingRoute(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	// A context missing user_id matches no route and passes
	rr := postAdmit(t, handler, `{"context":{"channel_id":"support"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestServer_AdmitInvalidBody(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	rr := postAdmit(t, handler, `{"context": not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

type failingStore struct{}

func (failingStore) FindByPath(context.Context, string) ([]quota.Row, error) {
	return nil, errors.New("backend down")
}

func (failingStore) Commit(context.Context, []quota.Upsert) error {
	return errors.New("backend down")
}

func (failingStore) Close() error { return nil }

func TestServer_AdmitStoreError(t *testing.T) {
	handler := newTestServer(t, failingStore{}).Handler()

	rr := postAdmit(t, handler, `{"context":{"user_id":"42"}}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestServer_AdmitDenylisted(t *testing.T) {
	store := quota.NewMemoryStore()
	server := newTestServer(t, store)

	deny := denylist.NewMemoryDenylist()
	if err := deny.Set(context.Background(), "user-13", "abusive traffic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	server.SetDenylist(deny)
	handler := server.Handler()

	rr := postAdmit(t, handler, `{"context":{"user_id":"user-13"}}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["reason"] != "abusive traffic" {
		t.Errorf("expected reason in response, got %v", body)
	}

	// The rejection consumed nothing
	if store.Len() != 0 {
		t.Errorf("expected no cursor rows after denylist rejection, got %d", store.Len())
	}

	// Other principals are unaffected
	rr = postAdmit(t, handler, `{"context":{"user_id":"user-14"}}`)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for clean principal, got %d", rr.Code)
	}
}

func TestServer_Remaining(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	get := func() remainingResponse {
		req := httptest.NewRequest(http.MethodGet, "/v1/remaining?user_id=42", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
		}
		var resp remainingResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		return resp
	}

	resp := get()
	if len(resp.Routes) != 1 {
		t.Fatalf("expected 1 matched route, got %d", len(resp.Routes))
	}
	if resp.Routes[0].Path != "user/42" {
		t.Errorf("expected path user/42, got %q", resp.Routes[0].Path)
	}
	if got := resp.Routes[0].Tiers[0].Remaining; got != 2 {
		t.Errorf("expected 2 remaining before any admit, got %d", got)
	}

	// Inspect is read-only; an admit in between moves the count
	if rr := postAdmit(t, handler, `{"context":{"user_id":"42"}}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := get().Routes[0].Tiers[0].Remaining; got != 1 {
		t.Errorf("expected 1 remaining after one admit, got %d", got)
	}
}

func TestServer_Routes(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/routes", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Routes []routeInfo `json:"routes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(resp.Routes))
	}
	route := resp.Routes[0]
	if route.Template != "user/{user_id}" {
		t.Errorf("unexpected template %q", route.Template)
	}
	if len(route.RequiredKeys) != 1 || route.RequiredKeys[0] != "user_id" {
		t.Errorf("unexpected required keys %v", route.RequiredKeys)
	}
	if len(route.Tiers) != 1 || route.Tiers[0].Quota != 2 || route.Tiers[0].WindowMillis != 60000 {
		t.Errorf("unexpected tiers %+v", route.Tiers)
	}
}

func TestServer_Health(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["status"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestServer_MetricsWithoutManager(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when metrics are not enabled, got %d", rr.Code)
	}
}

func TestServer_RequestID(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get(HeaderRequestID) == "" {
		t.Error("expected a generated request ID on the response")
	}

	// A caller-supplied ID is preserved
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "req-abc-123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(HeaderRequestID); got != "req-abc-123" {
		t.Errorf("expected caller request ID to be echoed, got %q", got)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	handler := newTestServer(t, quota.NewMemoryStore()).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/admit", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin from default config, got %q", got)
	}
}

func TestServer_MCPMount(t *testing.T) {
	server := newTestServer(t, quota.NewMemoryStore())
	server.SetMCPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("mcp"))
	}))
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "mcp" {
		t.Errorf("expected mounted MCP handler to answer, got %d %q", rr.Code, rr.Body.String())
	}
}
