package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultBaseURL = "https://api.opentok.com"

	authHeader      = "X-OPENTOK-AUTH"
	projectTokenTTL = 3 * time.Minute
	maxTokenData    = 1000
	maxTokenTTL     = 30 * 24 * time.Hour
	maxErrorBody    = 4 << 10
)

// Config configures the OpenTok REST client.
type Config struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	HTTPClient *http.Client
	Now        func() time.Time
}

// OpenTok implements Gateway on top of the OpenTok (Vonage Video) REST API.
type OpenTok struct {
	apiKey  string
	secret  []byte
	baseURL string
	client  *http.Client
	nowFn   func() time.Time
}

var _ Gateway = (*OpenTok)(nil)

func NewOpenTok(cfg Config) (*OpenTok, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gateway: api key is required")
	}
	if cfg.APISecret == "" {
		return nil, errors.New("gateway: api secret is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpenTok{
		apiKey:  cfg.APIKey,
		secret:  []byte(cfg.APISecret),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		nowFn:   cfg.Now,
	}, nil
}

func (o *OpenTok) APIKey() string { return o.apiKey }

type projectClaims struct {
	jwt.RegisteredClaims
	IssuerType string `json:"ist"`
}

type clientClaims struct {
	jwt.RegisteredClaims
	IssuerType             string `json:"ist"`
	Scope                  string `json:"scope"`
	SessionID              string `json:"session_id"`
	Role                   Role   `json:"role"`
	Nonce                  string `json:"nonce"`
	ConnectionData         string `json:"connection_data,omitempty"`
	InitialLayoutClassList string `json:"initial_layout_class_list"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (o *OpenTok) CreateSession(ctx context.Context, mode MediaMode) (string, error) {
	const op = "create session"

	p2p := "disabled"
	switch mode {
	case MediaModeRouted, "":
	case MediaModeRelayed:
		p2p = "enabled"
	default:
		return "", &Error{Op: op, Message: fmt.Sprintf("unknown media mode %q", mode)}
	}

	form := url.Values{}
	form.Set("p2p.preference", p2p)
	form.Set("archiveMode", "manual")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/session/create", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := o.do(op, req)
	if err != nil {
		return "", err
	}

	var sessions []createSessionResponse
	if err := json.Unmarshal(body, &sessions); err != nil {
		return "", &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(sessions) == 0 || sessions[0].SessionID == "" {
		return "", &Error{Op: op, Message: "response did not contain a session id"}
	}
	return sessions[0].SessionID, nil
}

func (o *OpenTok) GenerateToken(sessionID string, opts TokenOptions) (string, error) {
	const op = "generate token"

	if sessionID == "" {
		return "", &Error{Op: op, Message: "session id is required"}
	}
	switch opts.Role {
	case "":
		opts.Role = RolePublisher
	case RoleSubscriber, RolePublisher, RoleModerator:
	default:
		return "", &Error{Op: op, Message: fmt.Sprintf("invalid role %q", opts.Role)}
	}
	if len(opts.Data) > maxTokenData {
		return "", &Error{Op: op, Message: fmt.Sprintf("connection data exceeds %d bytes", maxTokenData)}
	}

	now := o.nowFn()
	expire := opts.ExpireTime
	if expire.IsZero() {
		expire = now.Add(24 * time.Hour)
	}
	if !expire.After(now) {
		return "", &Error{Op: op, Message: "expire time must be in the future"}
	}
	if expire.Sub(now) > maxTokenTTL {
		return "", &Error{Op: op, Message: "expire time must be within 30 days"}
	}

	nonce, err := gonanoid.New(16)
	if err != nil {
		return "", &Error{Op: op, Err: err}
	}

	claims := clientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expire),
			ID:        uuid.NewString(),
		},
		IssuerType:     "project",
		Scope:          "session.connect",
		SessionID:      sessionID,
		Role:           opts.Role,
		Nonce:          nonce,
		ConnectionData: opts.Data,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.secret)
	if err != nil {
		return "", &Error{Op: op, Err: err}
	}
	return token, nil
}

func (o *OpenTok) Signal(ctx context.Context, sessionID, connectionID string, sig Signal) error {
	const op = "signal"

	if sessionID == "" {
		return &Error{Op: op, Message: "session id is required"}
	}

	path := fmt.Sprintf("%s/v2/project/%s/session/%s", o.baseURL, url.PathEscape(o.apiKey), url.PathEscape(sessionID))
	if connectionID != "" {
		path += "/connection/" + url.PathEscape(connectionID)
	}
	path += "/signal"

	payload, err := json.Marshal(sig)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = o.do(op, req)
	return err
}

func (o *OpenTok) do(op string, req *http.Request) ([]byte, error) {
	auth, err := o.projectToken()
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	req.Header.Set(authHeader, auth)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
	return body, nil
}

func (o *OpenTok) projectToken() (string, error) {
	now := o.nowFn()
	claims := projectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(projectTokenTTL)),
			ID:        uuid.NewString(),
		},
		IssuerType: "project",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.secret)
}

func errorMessage(status int, body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}
