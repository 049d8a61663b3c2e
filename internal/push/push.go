// Package push sends Web Push notifications to subscribed agents.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

// Keys is a VAPID key pair.
type Keys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// GenerateKeys creates an ephemeral VAPID key pair.
func GenerateKeys(subject string) (Keys, error) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return Keys{}, err
	}
	return Keys{PublicKey: public, PrivateKey: private, Subject: subject}, nil
}

type Subscription struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256DH string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// Notification is the JSON payload the service worker receives.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Notifier sends notifications to the subscriptions held in its Store.
type Notifier struct {
	store  Store
	keys   Keys
	send   sendFunc
	logger *slog.Logger
}

// NewNotifier builds a notifier over store. A nil store keeps
// subscriptions in memory only.
func NewNotifier(keys Keys, store Store, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Notifier{
		store:  store,
		keys:   keys,
		send:   webpush.SendNotificationWithContext,
		logger: logger,
	}
}

func (n *Notifier) PublicKey() string { return n.keys.PublicKey }

var ErrInvalidSubscription = errors.New("push: endpoint and keys are required")

func (n *Notifier) Subscribe(ctx context.Context, sub Subscription) error {
	if sub.Endpoint == "" || sub.Keys.P256DH == "" || sub.Keys.Auth == "" {
		return ErrInvalidSubscription
	}
	if err := n.store.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// Unsubscribe reports whether the endpoint was subscribed.
func (n *Notifier) Unsubscribe(ctx context.Context, endpoint string) (bool, error) {
	ok, err := n.store.Delete(ctx, endpoint)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return ok, nil
}

// Len returns the number of subscriptions, or 0 when the store fails.
func (n *Notifier) Len(ctx context.Context) int {
	count, err := n.store.Count(ctx)
	if err != nil {
		n.logger.Warn("push count failed", "error", err)
		return 0
	}
	return count
}

// Broadcast sends msg to every subscription. Endpoints reporting 404 or 410
// are dropped. It returns how many deliveries were accepted.
func (n *Notifier) Broadcast(ctx context.Context, msg Notification) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn("push marshal failed", "error", err)
		return 0
	}

	subs, err := n.store.List(ctx)
	if err != nil {
		n.logger.Warn("push list failed", "error", err)
		return 0
	}

	delivered := 0
	for _, s := range subs {
		resp, err := n.send(ctx, payload, &webpush.Subscription{
			Endpoint: s.Endpoint,
			Keys:     webpush.Keys{P256dh: s.Keys.P256DH, Auth: s.Keys.Auth},
		}, &webpush.Options{
			Subscriber:      n.keys.Subject,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             30,
			Urgency:         webpush.UrgencyHigh,
		})
		if err != nil {
			n.logger.Warn("push send failed", "endpoint", s.Endpoint, "error", err)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			n.logger.Info("push subscription expired", "endpoint", s.Endpoint, "status", resp.StatusCode)
			if _, err := n.store.Delete(ctx, s.Endpoint); err != nil {
				n.logger.Warn("push prune failed", "endpoint", s.Endpoint, "error", err)
			}
		case resp.StatusCode >= 300:
			n.logger.Warn("push rejected", "endpoint", s.Endpoint, "status", resp.StatusCode)
		default:
			delivered++
		}
	}
	return delivered
}
