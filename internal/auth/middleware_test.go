package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupAuthRouter(t *testing.T) (*gin.Engine, *Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := NewManager(NewMemoryStore())
	rawKey, _, err := m.GenerateKey(context.Background(), agentAddr, "test")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/open", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent": GetAuthenticatedAgent(c)})
	})
	protected := r.Group("", RequireAuth())
	protected.GET("/closed", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent": GetAuthenticatedAgent(c)})
	})

	return r, m, rawKey
}

func TestMiddleware_SetsIdentity(t *testing.T) {
	router, _, rawKey := setupAuthRouter(t)

	req := httptest.NewRequest("GET", "/open", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Agent string `json:"agent"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Agent != strings.ToLower(agentAddr) {
		t.Errorf("agent = %q, want authenticated address", resp.Agent)
	}
}

func TestMiddleware_OpenRouteWithoutKey(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	req := httptest.NewRequest("GET", "/open", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("open route without key: status = %d, want 200", w.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	router, _, rawKey := setupAuthRouter(t)

	// No key.
	req := httptest.NewRequest("GET", "/closed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", w.Code)
	}

	// Garbage key.
	req = httptest.NewRequest("GET", "/closed", nil)
	req.Header.Set("Authorization", "Bearer sk_bogus")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", w.Code)
	}

	// Valid key, via X-API-Key.
	req = httptest.NewRequest("GET", "/closed", nil)
	req.Header.Set("X-API-Key", rawKey)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", w.Code)
	}
}

func setupHandlerRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := NewManager(NewMemoryStore())
	h := NewHandler(m)

	r := gin.New()
	r.Use(Middleware(m))
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	protected := v1.Group("", RequireAuth())
	h.RegisterProtectedRoutes(protected)

	return r, m
}

func TestHandler_RegisterAgent(t *testing.T) {
	router, _ := setupHandlerRouter(t)

	body, _ := json.Marshal(RegisterAgentRequest{Address: agentAddr, Name: "bot"})
	req := httptest.NewRequest("POST", "/v1/agents/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AgentAddress string `json:"agentAddress"`
		APIKey       string `json:"apiKey"`
		KeyID        string `json:"keyId"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.APIKey, "sk_") {
		t.Errorf("apiKey = %q, want sk_ prefix", resp.APIKey)
	}
	if resp.AgentAddress != strings.ToLower(agentAddr) {
		t.Errorf("agentAddress = %q, want lowercased", resp.AgentAddress)
	}

	// Second registration for the same address is rejected.
	req = httptest.NewRequest("POST", "/v1/agents/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("re-register: status = %d, want 409", w.Code)
	}
}

func TestHandler_RegisterAgentInvalidAddress(t *testing.T) {
	router, _ := setupHandlerRouter(t)

	body, _ := json.Marshal(RegisterAgentRequest{Address: "nope"})
	req := httptest.NewRequest("POST", "/v1/agents/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandler_KeyManagement(t *testing.T) {
	router, m := setupHandlerRouter(t)
	rawKey, current, err := m.GenerateKey(context.Background(), agentAddr, "primary")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	do := func(method, path string, payload any) *httptest.ResponseRecorder {
		var body *bytes.Reader
		if payload != nil {
			b, _ := json.Marshal(payload)
			body = bytes.NewReader(b)
		} else {
			body = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+rawKey)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// whoami
	w := do("GET", "/v1/auth/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: status = %d: %s", w.Code, w.Body.String())
	}

	// Issue a second key.
	w = do("POST", "/v1/auth/keys", CreateKeyRequest{Name: "backup"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create key: status = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		KeyID string `json:"keyId"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	// Both keys listed.
	w = do("GET", "/v1/auth/keys", nil)
	var list struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 2 {
		t.Errorf("key count = %d, want 2", list.Count)
	}

	// The current key cannot revoke itself.
	w = do("DELETE", "/v1/auth/keys/"+current.ID, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("self-revoke: status = %d, want 400", w.Code)
	}

	// The backup key can be revoked.
	w = do("DELETE", "/v1/auth/keys/"+created.KeyID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("revoke: status = %d: %s", w.Code, w.Body.String())
	}
}
