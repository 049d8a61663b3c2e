package callers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type pending struct {
	sessionID string
	ev        Event
}

// dispatcher delivers events to one notifier. Events of the same caller are
// delivered one at a time in the order they were queued; different callers
// proceed independently.
type dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string][]pending
}

func newDispatcher(n Notifier, timeout time.Duration, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		notifier: n,
		timeout:  timeout,
		logger:   logger,
		queues:   make(map[string][]pending),
	}
}

// enqueue must be called in transition order for a given caller; the
// registry does so while holding its lock.
func (d *dispatcher) enqueue(sessionID string, ev Event) {
	id := ev.Status.CallerID

	d.mu.Lock()
	q, running := d.queues[id]
	d.queues[id] = append(q, pending{sessionID: sessionID, ev: ev})
	d.mu.Unlock()

	if !running {
		go d.drain(id)
	}
}

func (d *dispatcher) drain(id string) {
	for {
		d.mu.Lock()
		q := d.queues[id]
		if len(q) == 0 {
			delete(d.queues, id)
			d.mu.Unlock()
			return
		}
		next := q[0]
		d.queues[id] = q[1:]
		d.mu.Unlock()

		d.deliver(next)
	}
}

func (d *dispatcher) deliver(p pending) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, p.sessionID, p.ev); err != nil {
		d.logger.Warn("caller signal failed",
			"caller_id", p.ev.Status.CallerID,
			"session_id", p.sessionID,
			"type", p.ev.Type,
			"error", err,
		)
	}
}
