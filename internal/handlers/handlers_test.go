package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tariel-x/agentdesk/internal/auth"
	"github.com/tariel-x/agentdesk/internal/callers"
	"github.com/tariel-x/agentdesk/internal/config"
	"github.com/tariel-x/agentdesk/internal/gateway"
	"github.com/tariel-x/agentdesk/internal/push"
	"github.com/tariel-x/agentdesk/internal/websocket"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type fakeGateway struct {
	mu         sync.Mutex
	sessions   int
	tokens     int
	createErr  error
	lastTokens []gateway.TokenOptions
}

func (g *fakeGateway) APIKey() string { return "test-key" }

func (g *fakeGateway) CreateSession(context.Context, gateway.MediaMode) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.sessions++
	return fmt.Sprintf("session-%d", g.sessions), nil
}

func (g *fakeGateway) GenerateToken(sessionID string, opts gateway.TokenOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens++
	g.lastTokens = append(g.lastTokens, opts)
	return fmt.Sprintf("token-%s-%d", sessionID, g.tokens), nil
}

func (g *fakeGateway) Signal(context.Context, string, string, gateway.Signal) error { return nil }

type testServer struct {
	router   *gin.Engine
	gw       *fakeGateway
	registry *callers.Registry
}

func newTestServer(t *testing.T, agents *auth.Manager) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		LogLevel: "info",
		OpenTok: config.OpenTokConfig{
			GatewayTimeout: time.Second,
			TokenTTL:       time.Hour,
		},
	}
	gw := &fakeGateway{}
	registry := callers.NewRegistry(callers.Policy{}, logger)
	hub := websocket.NewHub(logger)
	t.Cleanup(hub.Close)
	pushNotifier := push.NewNotifier(push.Keys{PublicKey: "vapid-public"}, nil, logger)

	router := gin.New()
	New(cfg, registry, gw, hub, pushNotifier, agents, logger).Register(router)
	return &testServer{router: router, gw: gw, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func TestCallLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/dial", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dial: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	dialed := decode[dialResponse](t, w)
	if dialed.CallerID != "1" || dialed.APIKey != "test-key" {
		t.Fatalf("unexpected dial response: %+v", dialed)
	}
	if dialed.Caller.SessionID != "session-1" || dialed.Caller.Token == "" {
		t.Fatalf("dial must return session and token: %+v", dialed.Caller)
	}
	if dialed.Caller.OnHold || dialed.Caller.AgentConnected || dialed.Caller.OnCallSince != nil {
		t.Fatalf("unexpected initial state: %+v", dialed.Caller)
	}

	w = s.do(t, http.MethodGet, "/call/1/join", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d", w.Code)
	}
	joined := decode[sessionResponse](t, w)
	if joined.SessionID != "session-1" || joined.Token == "" || joined.APIKey != "test-key" {
		t.Fatalf("unexpected join response: %+v", joined)
	}
	if !joined.Caller.AgentConnected || joined.Caller.OnCallSince == nil {
		t.Fatalf("join must connect the agent: %+v", joined.Caller)
	}

	w = s.do(t, http.MethodGet, "/call/1/hold", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hold: expected 200, got %d", w.Code)
	}
	held := decode[callerResponse](t, w)
	if !held.Caller.OnHold || held.Caller.AgentConnected {
		t.Fatalf("unexpected held state: %+v", held.Caller)
	}

	w = s.do(t, http.MethodGet, "/call/1/unhold", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unhold: expected 200, got %d", w.Code)
	}
	resumed := decode[sessionResponse](t, w)
	if resumed.Token == joined.Token {
		t.Fatalf("unhold must mint a fresh token")
	}
	if resumed.Caller.OnHold || !resumed.Caller.AgentConnected {
		t.Fatalf("unexpected resumed state: %+v", resumed.Caller)
	}
	if !resumed.Caller.OnCallSince.Equal(*joined.Caller.OnCallSince) {
		t.Fatalf("onCallSince changed across hold")
	}

	w = s.do(t, http.MethodGet, "/call/1/delete", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if got := decode[deleteResponse](t, w); got.Deleted != "1" {
		t.Fatalf("unexpected delete response: %+v", got)
	}

	w = s.do(t, http.MethodGet, "/call/1", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", w.Code)
	}
	if body := decode[errorBody](t, w); body.Message != "Caller ID 1 not found" || body.Status != http.StatusNotFound {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestTokensCarryRoleAndIdentity(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/dial", nil, nil)
	s.do(t, http.MethodGet, "/call/1/join", nil, nil)

	if len(s.gw.lastTokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(s.gw.lastTokens))
	}
	want := []string{
		`{"userId":"1","userType":"caller"}`,
		`{"userId":"Agent","userType":"agent"}`,
	}
	for i, opts := range s.gw.lastTokens {
		if opts.Role != gateway.RolePublisher {
			t.Fatalf("token %d: expected publisher role, got %s", i, opts.Role)
		}
		if opts.Data != want[i] {
			t.Fatalf("token %d: expected data %s, got %s", i, want[i], opts.Data)
		}
	}
}

func TestUnknownCallerReturns404(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/call/42", "/call/42/join", "/call/42/hold", "/call/42/unhold"} {
		w := s.do(t, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
		if body := decode[errorBody](t, w); body.Message != "Caller ID 42 not found" {
			t.Fatalf("%s: unexpected message %q", path, body.Message)
		}
	}
	if s.gw.tokens != 0 {
		t.Fatalf("no token should be minted for unknown callers")
	}
}

func TestDeleteUnknownCallerSucceeds(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/call/7/delete", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[deleteResponse](t, w); got.Deleted != "7" {
		t.Fatalf("unexpected delete response: %+v", got)
	}
}

func TestDialGatewayFailure(t *testing.T) {
	s := newTestServer(t, nil)
	s.gw.createErr = &gateway.Error{Op: "create session", StatusCode: http.StatusForbidden, Message: "Invalid credentials"}

	w := s.do(t, http.MethodGet, "/dial", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if body := decode[errorBody](t, w); body.Message != "Invalid credentials" || body.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error body: %+v", body)
	}
	if s.registry.Len() != 0 {
		t.Fatalf("failed dial must not register a caller")
	}

	s.gw.createErr = nil
	w = s.do(t, http.MethodGet, "/dial", nil, nil)
	if got := decode[dialResponse](t, w); got.CallerID != "2" {
		t.Fatalf("expected next id 2, got %s", got.CallerID)
	}
}

func TestListCalls(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/calls", nil, nil)
	if got := decode[listResponse](t, w); got.Callers == nil || len(got.Callers) != 0 {
		t.Fatalf("expected empty list, got %+v", got.Callers)
	}

	for i := 0; i < 3; i++ {
		s.do(t, http.MethodGet, "/dial", nil, nil)
	}
	s.do(t, http.MethodGet, "/call/2/join", nil, nil)

	w = s.do(t, http.MethodGet, "/calls", nil, nil)
	got := decode[listResponse](t, w)
	if len(got.Callers) != 3 {
		t.Fatalf("expected 3 callers, got %d", len(got.Callers))
	}
	if got.Callers[1].CallerID != "2" || got.Callers[1].State != callers.StateOnCall {
		t.Fatalf("unexpected second caller: %+v", got.Callers[1])
	}
	if got.Callers[0].State != callers.StateWaiting {
		t.Fatalf("unexpected first caller: %+v", got.Callers[0])
	}
}

func TestClientConfig(t *testing.T) {
	s := newTestServer(t, nil)

	got := decode[clientConfigResponse](t, s.do(t, http.MethodGet, "/api/config", nil, nil))
	if got.APIKey != "test-key" || got.VAPIDPublicKey != "vapid-public" || got.AgentAuth {
		t.Fatalf("unexpected client config: %+v", got)
	}
}

func TestPushSubscription(t *testing.T) {
	s := newTestServer(t, nil)
	sub := map[string]any{
		"endpoint": "https://push.example/abc",
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}

	if w := s.do(t, http.MethodPost, "/api/push/subscribe", sub, nil); w.Code != http.StatusCreated {
		t.Fatalf("subscribe: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, "/api/push/subscribe", map[string]any{"endpoint": "x"}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("subscribe without keys: expected 400, got %d", w.Code)
	}

	unsub := map[string]string{"endpoint": "https://push.example/abc"}
	if w := s.do(t, http.MethodDelete, "/api/push/subscribe", unsub, nil); w.Code != http.StatusOK {
		t.Fatalf("unsubscribe: expected 200, got %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, "/api/push/subscribe", unsub, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second unsubscribe: expected 404, got %d", w.Code)
	}
}

func TestAgentGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	agents, err := auth.NewManager(string(hash), "secret", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	s := newTestServer(t, agents)

	if w := s.do(t, http.MethodGet, "/calls", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/agent/login", loginRequest{Password: "wrong"}, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/api/agent/login", loginRequest{Password: "hunter2"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	login := decode[loginResponse](t, w)

	header := http.Header{"Authorization": []string{"Bearer " + login.Token}}
	if w := s.do(t, http.MethodGet, "/calls", nil, header); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}

	// Caller routes stay open.
	if w := s.do(t, http.MethodGet, "/dial", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("dial must not require agent auth, got %d", w.Code)
	}
	if got := decode[clientConfigResponse](t, s.do(t, http.MethodGet, "/api/config", nil, nil)); !got.AgentAuth {
		t.Fatalf("client config must report agent auth")
	}
}

func TestAgentLoginDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	if w := s.do(t, http.MethodPost, "/api/agent/login", loginRequest{Password: "x"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when gate disabled, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/dial", nil, nil)

	got := decode[map[string]any](t, s.do(t, http.MethodGet, "/healthz", nil, nil))
	if got["status"] != "ok" || got["callers"] != float64(1) {
		t.Fatalf("unexpected health: %+v", got)
	}
}
