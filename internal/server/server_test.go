package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/skillvault/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing (in-memory storage)
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		LogFormat:         "text",
		Asset:             "USDC",
		CustodySecret:     "test-custody-secret-0123456789ab",
		ArbiterAddrs:      []string{"0xcccc567890123456789012345678901234567890"},
		WatcherInterval:   time.Minute,
		ReconcileInterval: time.Minute,
		MaxEscrowDuration: 30 * 24 * time.Hour,
		RateLimitRPS:      1000,
	}
}

// newTestServer creates a server backed by in-memory stores
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestEscrowRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	escrowRoutes := map[string]bool{
		"GET:/v1/escrows/:id":             false,
		"GET:/v1/escrows/:id/timeout":     false,
		"GET:/v1/agents/:address/escrows": false,
		"POST:/v1/escrows":                false,
		"POST:/v1/escrows/:id/fund":       false,
		"POST:/v1/escrows/:id/release":    false,
		"POST:/v1/escrows/:id/refund":     false,
		"POST:/v1/escrows/:id/dispute":    false,
		"POST:/v1/escrows/:id/resolve":    false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := escrowRoutes[key]; ok {
			escrowRoutes[key] = true
		}
	}

	for route, found := range escrowRoutes {
		if !found {
			t.Errorf("Escrow route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/agents/register",
		"GET:/v1/accounts/:address/balance",
		"GET:/v1/accounts/:address/history",
		"POST:/v1/accounts/:address/deposit",
		"POST:/v1/accounts/:address/withdraw",
		"GET:/v1/reputation/:address",
		"GET:/v1/reputation/:address/history",
		"GET:/v1/auth/me",
		"DELETE:/v1/auth/keys/:keyId",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Agent registration test
// ---------------------------------------------------------------------------

func TestAgentRegistration(t *testing.T) {
	s := newTestServer(t)

	body := `{"address":"0xaaaa000000000000000000000000000000000001","name":"TestBot"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/agents/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["apiKey"] == nil || resp["apiKey"] == "" {
		t.Error("Expected apiKey in registration response")
	}
}

// ---------------------------------------------------------------------------
// Escrow lifecycle through the full middleware stack
// ---------------------------------------------------------------------------

func TestEscrowCreateWithAPIKey(t *testing.T) {
	s := newTestServer(t)

	register := `{"address":"0xaaaa000000000000000000000000000000000002","name":"Provider"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/agents/register", strings.NewReader(register))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Registration failed: %d %s", w.Code, w.Body.String())
	}

	var reg map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("Failed to parse registration: %v", err)
	}
	apiKey, _ := reg["apiKey"].(string)
	if apiKey == "" {
		t.Fatal("Expected API key from registration")
	}

	create := `{
		"provider": "0xaaaa000000000000000000000000000000000002",
		"skillName": "sentiment-analysis",
		"durationSeconds": 3600
	}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/escrows", strings.NewReader(create))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var esc map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &esc); err != nil {
		t.Fatalf("Failed to parse escrow: %v", err)
	}
	if esc["state"] != "created" {
		t.Errorf("Expected state created, got %v", esc["state"])
	}
}

func TestEscrowCreateWithoutAPIKey(t *testing.T) {
	s := newTestServer(t)

	create := `{
		"provider": "0xaaaa000000000000000000000000000000000003",
		"skillName": "translation",
		"durationSeconds": 3600
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/escrows", strings.NewReader(create))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
