// Package notify relays caller transitions into the video session.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tariel-x/agentdesk/internal/callers"
	"github.com/tariel-x/agentdesk/internal/gateway"
)

// Signaler broadcasts transitions into the caller's video session so both
// the caller and the agent clients see them.
type Signaler struct {
	gw gateway.Gateway
}

func NewSignaler(gw gateway.Gateway) *Signaler {
	return &Signaler{gw: gw}
}

func (s *Signaler) Notify(ctx context.Context, sessionID string, ev callers.Event) error {
	data, err := json.Marshal(ev.Status)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return s.gw.Signal(ctx, sessionID, "", gateway.Signal{
		Type: string(ev.Type),
		Data: string(data),
	})
}
