package callers

import "time"

// State is derived from the caller flags. Values are part of the public API.
type State string

const (
	StateWaiting State = "waiting"
	StateOnCall  State = "on_call"
	StateOnHold  State = "on_hold"
)

// Caller is one customer's interaction with the desk.
// Fields are only touched under the registry lock.
type Caller struct {
	ID             string
	SessionID      string
	Token          string
	OnHold         bool
	AgentConnected bool
	ConnectedSince time.Time
	OnCallSince    *time.Time
	UpdatedAt      time.Time
}

// Status is the snapshot sent to clients and signaled to the session.
type Status struct {
	CallerID       string     `json:"callerId"`
	OnHold         bool       `json:"onHold"`
	ConnectedSince time.Time  `json:"connectedSince"`
	OnCallSince    *time.Time `json:"onCallSince"`
	AgentConnected bool       `json:"agentConnected"`
	State          State      `json:"state"`
}

// Record is the full caller view returned to the caller on dial.
type Record struct {
	Status
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

func (c *Caller) State() State {
	switch {
	case c.OnHold:
		return StateOnHold
	case c.AgentConnected:
		return StateOnCall
	default:
		return StateWaiting
	}
}

func (c *Caller) Status() Status {
	var since *time.Time
	if c.OnCallSince != nil {
		t := *c.OnCallSince
		since = &t
	}
	return Status{
		CallerID:       c.ID,
		OnHold:         c.OnHold,
		ConnectedSince: c.ConnectedSince,
		OnCallSince:    since,
		AgentConnected: c.AgentConnected,
		State:          c.State(),
	}
}

func (c *Caller) Record() Record {
	return Record{
		Status:    c.Status(),
		SessionID: c.SessionID,
		Token:     c.Token,
	}
}
