package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tariel-x/agentdesk/internal/auth"
	"github.com/tariel-x/agentdesk/internal/callers"
	"github.com/tariel-x/agentdesk/internal/config"
	"github.com/tariel-x/agentdesk/internal/gateway"
	"github.com/tariel-x/agentdesk/internal/push"
	"github.com/tariel-x/agentdesk/internal/websocket"

	gws "github.com/gorilla/websocket"
)

type Handlers struct {
	config     *config.Config
	callers    *callers.Registry
	gateway    gateway.Gateway
	hub        *websocket.Hub
	push       *push.Notifier
	agents     *auth.Manager
	wsUpgrader gws.Upgrader
	nowFn      func() time.Time
	logger     *slog.Logger
}

// New wires the handlers. pushNotifier and agents may be nil; a nil agents
// manager leaves the agent routes open.
func New(
	config *config.Config,
	registry *callers.Registry,
	gw gateway.Gateway,
	hub *websocket.Hub,
	pushNotifier *push.Notifier,
	agents *auth.Manager,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		config:  config,
		callers: registry,
		gateway: gw,
		hub:     hub,
		push:    pushNotifier,
		agents:  agents,
		wsUpgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		nowFn:  time.Now,
		logger: logger,
	}
}
