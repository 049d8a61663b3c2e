// Package auth implements the agent gate: a shared password exchanged for a
// short-lived session token.
package auth

import (
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer       = "agentdesk"
	subjectAgent = "agent"
	bearerPrefix = "Bearer "
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
)

type Manager struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
}

type claims struct {
	jwt.RegisteredClaims
}

// NewManager builds a gate from a bcrypt hash. An empty secret gets a random
// one, which invalidates agent sessions on restart.
func NewManager(passwordHash, secret string, ttl time.Duration) (*Manager, error) {
	if passwordHash == "" {
		return nil, errors.New("agent password hash is required")
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}

	return &Manager{
		passwordHash: []byte(passwordHash),
		secret:       key,
		ttl:          ttl,
	}, nil
}

// Login checks the password and issues an agent session token.
func (m *Manager) Login(password string, now time.Time) (string, time.Time, error) {
	if err := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidPassword
	}

	expires := now.Add(m.ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectAgent,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func (m *Manager) Verify(token string, now time.Time) error {
	var c claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(subjectAgent),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// RequireAgent rejects requests without a valid agent session. Browsers
// cannot set headers on websocket upgrades, so a token query parameter is
// accepted too.
func RequireAgent(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if raw := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(raw, bearerPrefix) {
			token = strings.TrimPrefix(raw, bearerPrefix)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "agent token required", "status": http.StatusUnauthorized})
			return
		}
		if err := m.Verify(token, time.Now()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid agent token", "status": http.StatusUnauthorized})
			return
		}
		c.Next()
	}
}
