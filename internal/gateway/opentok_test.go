package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testKey    = "12345"
	testSecret = "s3cr3t"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenTok {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOpenTok(Config{APIKey: testKey, APISecret: testSecret, BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return o
}

func parseClaims(raw string, claims jwt.Claims) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	return err
}

func TestNewOpenTokRequiresCredentials(t *testing.T) {
	if _, err := NewOpenTok(Config{APISecret: "x"}); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewOpenTok(Config{APIKey: "x"}); err == nil {
		t.Fatalf("expected error without api secret")
	}
}

func TestCreateSessionRouted(t *testing.T) {
	o := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session/create" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("p2p.preference"); got != "disabled" {
			t.Errorf("expected routed session, got p2p.preference=%q", got)
		}

		var claims projectClaims
		if err := parseClaims(r.Header.Get(authHeader), &claims); err != nil {
			t.Errorf("parse auth header: %v", err)
		}
		if claims.Issuer != testKey || claims.IssuerType != "project" {
			t.Errorf("unexpected auth claims: %+v", claims)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"session_id":"1_MX4xMjM0NX4"}]`)
	})

	id, err := o.CreateSession(context.Background(), MediaModeRouted)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if id != "1_MX4xMjM0NX4" {
		t.Fatalf("unexpected session id %q", id)
	}
}

func TestCreateSessionSurfacesPlatformError(t *testing.T) {
	o := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":403,"message":"Invalid credentials"}`)
	})

	_, err := o.CreateSession(context.Background(), MediaModeRouted)
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if gwErr.StatusCode != http.StatusForbidden || gwErr.Message != "Invalid credentials" {
		t.Fatalf("unexpected error: %+v", gwErr)
	}
}

func TestCreateSessionRejectsEmptyResponse(t *testing.T) {
	o := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	if _, err := o.CreateSession(context.Background(), MediaModeRelayed); err == nil {
		t.Fatalf("expected error for empty session list")
	}
}

func TestGenerateTokenClaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o, _ := NewOpenTok(Config{APIKey: testKey, APISecret: testSecret, Now: func() time.Time { return now }})

	data := `{"userId":"1","userType":"caller"}`
	raw, err := o.GenerateToken("session-1", TokenOptions{Role: RolePublisher, Data: data, ExpireTime: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var claims clientClaims
	parser := jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return now }))
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}); err != nil {
		t.Fatalf("parse token: %v", err)
	}

	if claims.SessionID != "session-1" || claims.Role != RolePublisher || claims.ConnectionData != data {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Scope != "session.connect" || claims.Issuer != testKey {
		t.Fatalf("unexpected scope/issuer: %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt.Time)
	}
}

func TestGenerateTokenIsFreshEachTime(t *testing.T) {
	o, _ := NewOpenTok(Config{APIKey: testKey, APISecret: testSecret})
	exp := time.Now().Add(time.Hour)

	a, err := o.GenerateToken("s", TokenOptions{Role: RolePublisher, ExpireTime: exp})
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	b, err := o.GenerateToken("s", TokenOptions{Role: RolePublisher, ExpireTime: exp})
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o, _ := NewOpenTok(Config{APIKey: testKey, APISecret: testSecret, Now: func() time.Time { return now }})

	cases := map[string]struct {
		session string
		opts    TokenOptions
	}{
		"missing session": {"", TokenOptions{}},
		"bad role":        {"s", TokenOptions{Role: "admin"}},
		"expired":         {"s", TokenOptions{ExpireTime: now.Add(-time.Second)}},
		"too long":        {"s", TokenOptions{ExpireTime: now.Add(31 * 24 * time.Hour)}},
		"large data":      {"s", TokenOptions{Data: strings.Repeat("x", 1001)}},
	}
	for name, tc := range cases {
		if _, err := o.GenerateToken(tc.session, tc.opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSignalBroadcastAndConnection(t *testing.T) {
	var paths []string
	var got Signal
	o := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	sig := Signal{Type: "hold", Data: `{"callerId":"1"}`}
	if err := o.Signal(context.Background(), "sess", "", sig); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if err := o.Signal(context.Background(), "sess", "conn", sig); err != nil {
		t.Fatalf("direct signal: %v", err)
	}

	want := []string{
		"/v2/project/12345/session/sess/signal",
		"/v2/project/12345/session/sess/connection/conn/signal",
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("path %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
	if got != sig {
		t.Fatalf("unexpected signal body %+v", got)
	}
}

func TestSignalErrorStatus(t *testing.T) {
	o := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := o.Signal(context.Background(), "sess", "", Signal{Type: "hold"})
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 gateway error, got %v", err)
	}
}
