// Package gateway talks to the remote video platform: it creates sessions,
// mints participant tokens and broadcasts signals into a session.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// MediaMode selects how media flows through a session.
type MediaMode string

const (
	// MediaModeRouted sends media through the platform's media router.
	MediaModeRouted MediaMode = "routed"
	// MediaModeRelayed lets clients exchange media peer to peer.
	MediaModeRelayed MediaMode = "relayed"
)

// Role is a participant role embedded in a token.
type Role string

const (
	RoleSubscriber Role = "subscriber"
	RolePublisher  Role = "publisher"
	RoleModerator  Role = "moderator"
)

// TokenOptions describes a participant token.
type TokenOptions struct {
	Role       Role
	Data       string
	ExpireTime time.Time
}

// Signal is an application message delivered to session participants.
type Signal struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Gateway is the contract the broker needs from the video platform.
type Gateway interface {
	APIKey() string
	CreateSession(ctx context.Context, mode MediaMode) (string, error)
	GenerateToken(sessionID string, opts TokenOptions) (string, error)
	// Signal broadcasts to every participant when connectionID is empty.
	Signal(ctx context.Context, sessionID, connectionID string, sig Signal) error
}

// Error is a failure reported by, or while talking to, the platform.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }
