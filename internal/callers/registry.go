package callers

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"
)

var (
	ErrCallerNotFound = errors.New("caller not found")
	ErrRegistryFull   = errors.New("caller registry is full")
)

// Policy bounds the lifetime of registry entries. Zero values disable the limit.
type Policy struct {
	// TTL evicts callers that have not been mutated for this long. Callers
	// with a connected agent are never evicted.
	TTL time.Duration
	// MaxCallers rejects new callers once this many are registered.
	MaxCallers int
	// CleanupInterval is how often the background sweep runs when TTL is set.
	CleanupInterval time.Duration
	// SignalTimeout bounds each best-effort notification.
	SignalTimeout time.Duration
}

// Registry owns every Caller of the process. All reads and writes go through
// one mutex so a caller never has more than one writer.
type Registry struct {
	mu      sync.Mutex
	callers map[string]*Caller
	lastID  uint64

	policy      Policy
	dispatchers []*dispatcher
	logger      *slog.Logger
}

// NewRegistry builds an empty registry. Each notifier gets its own ordered
// delivery queue, so a slow notifier never delays the others.
func NewRegistry(policy Policy, logger *slog.Logger, notifiers ...Notifier) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.CleanupInterval <= 0 {
		policy.CleanupInterval = time.Minute
	}
	if policy.SignalTimeout <= 0 {
		policy.SignalTimeout = 5 * time.Second
	}
	r := &Registry{
		callers: make(map[string]*Caller),
		policy:  policy,
		logger:  logger,
	}
	for _, n := range notifiers {
		if n != nil {
			r.dispatchers = append(r.dispatchers, newDispatcher(n, policy.SignalTimeout, logger))
		}
	}
	return r
}

// Create allocates the next caller id and returns an unregistered shell.
// Ids are never reused, even when the shell is never activated.
func (r *Registry) Create(now time.Time) *Caller {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	return &Caller{
		ID:             strconv.FormatUint(r.lastID, 10),
		ConnectedSince: now,
		UpdatedAt:      now,
	}
}

// Activate binds the remote session to the shell and makes it visible.
func (r *Registry) Activate(c *Caller, sessionID, token string, now time.Time) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked(now)
	if r.policy.MaxCallers > 0 && len(r.callers) >= r.policy.MaxCallers {
		return Record{}, ErrRegistryFull
	}

	c.SessionID = sessionID
	c.Token = token
	c.UpdatedAt = now
	r.callers[c.ID] = c
	return c.Record(), nil
}

func (r *Registry) Get(id string, now time.Time) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.loadLocked(id, now)
	if err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// Session returns the remote session id bound to the caller.
func (r *Registry) Session(id string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.loadLocked(id, now)
	if err != nil {
		return "", err
	}
	return c.SessionID, nil
}

// Delete removes the caller. Unknown ids are not an error.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.callers[id]
	delete(r.callers, id)
	return ok
}

func (r *Registry) List(now time.Time) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked(now)

	list := make([]*Caller, 0, len(r.callers))
	for _, c := range r.callers {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		a, _ := strconv.ParseUint(list[i].ID, 10, 64)
		b, _ := strconv.ParseUint(list[j].ID, 10, 64)
		return a < b
	})

	out := make([]Status, 0, len(list))
	for _, c := range list {
		out = append(out, c.Status())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callers)
}

// RunCleanup sweeps expired callers until ctx is done. It returns immediately
// when no TTL is configured.
func (r *Registry) RunCleanup(ctx context.Context) {
	if r.policy.TTL <= 0 {
		return
	}
	ticker := time.NewTicker(r.policy.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.mu.Lock()
			r.expireLocked(now)
			r.mu.Unlock()
		}
	}
}

func (r *Registry) loadLocked(id string, now time.Time) (*Caller, error) {
	c, ok := r.callers[id]
	if !ok {
		return nil, ErrCallerNotFound
	}
	if r.expiredLocked(c, now) {
		r.evictLocked(c)
		return nil, ErrCallerNotFound
	}
	return c, nil
}

func (r *Registry) expiredLocked(c *Caller, now time.Time) bool {
	if r.policy.TTL <= 0 || c.AgentConnected {
		return false
	}
	return now.Sub(c.UpdatedAt) > r.policy.TTL
}

func (r *Registry) expireLocked(now time.Time) {
	if r.policy.TTL <= 0 {
		return
	}
	for _, c := range r.callers {
		if r.expiredLocked(c, now) {
			r.evictLocked(c)
		}
	}
}

func (r *Registry) evictLocked(c *Caller) {
	delete(r.callers, c.ID)
	r.logger.Info("caller evicted", "caller_id", c.ID, "idle", c.UpdatedAt.String())
}
