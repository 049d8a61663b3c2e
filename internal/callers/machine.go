package callers

import (
	"context"
	"time"
)

// SignalType names the signal broadcast after a transition.
type SignalType string

const (
	SignalAgentConnected SignalType = "agentConnected"
	SignalHold           SignalType = "hold"
	SignalUnhold         SignalType = "unhold"
)

// Event is a caller transition as seen by notifiers.
type Event struct {
	Type   SignalType `json:"type"`
	Status Status     `json:"status"`
}

// Notifier delivers transition events on a best-effort basis. Events for one
// caller arrive in transition order. Errors are logged by the registry and
// never reach the code that caused the transition.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, ev Event) error
}

// StartCall marks the agent as connected. OnCallSince is only set the first time.
func (r *Registry) StartCall(id string, now time.Time) (Status, error) {
	return r.transition(id, now, SignalAgentConnected, func(c *Caller) {
		c.OnHold = false
		c.AgentConnected = true
		if c.OnCallSince == nil {
			t := now
			c.OnCallSince = &t
		}
	})
}

func (r *Registry) Hold(id string, now time.Time) (Status, error) {
	return r.transition(id, now, SignalHold, func(c *Caller) {
		c.OnHold = true
		c.AgentConnected = false
	})
}

// Unhold resumes the call. A caller that was held before any join still gets
// OnCallSince, since the agent is connected from here on.
func (r *Registry) Unhold(id string, now time.Time) (Status, error) {
	return r.transition(id, now, SignalUnhold, func(c *Caller) {
		c.OnHold = false
		c.AgentConnected = true
		if c.OnCallSince == nil {
			t := now
			c.OnCallSince = &t
		}
	})
}

func (r *Registry) transition(id string, now time.Time, typ SignalType, apply func(*Caller)) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.loadLocked(id, now)
	if err != nil {
		return Status{}, err
	}
	apply(c)
	c.UpdatedAt = now
	status := c.Status()

	// Queued under the lock so per-caller order matches transition order.
	ev := Event{Type: typ, Status: status}
	for _, d := range r.dispatchers {
		d.enqueue(c.SessionID, ev)
	}
	return status, nil
}
