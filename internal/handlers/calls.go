package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tariel-x/agentdesk/internal/callers"
	"github.com/tariel-x/agentdesk/internal/gateway"
	"github.com/tariel-x/agentdesk/internal/push"
	"github.com/tariel-x/agentdesk/internal/websocket"

	"github.com/gin-gonic/gin"
)

const (
	userTypeCaller = "caller"
	userTypeAgent  = "agent"
	agentUserID    = "Agent"

	pushTimeout = 10 * time.Second
)

type dialResponse struct {
	CallerID string         `json:"callerId"`
	APIKey   string         `json:"apiKey"`
	Caller   callers.Record `json:"caller"`
}

type sessionResponse struct {
	APIKey    string         `json:"apiKey"`
	SessionID string         `json:"sessionId"`
	Token     string         `json:"token"`
	Caller    callers.Status `json:"caller"`
}

type callerResponse struct {
	Caller callers.Status `json:"caller"`
}

type listResponse struct {
	Callers []callers.Status `json:"callers"`
}

type deleteResponse struct {
	Deleted string `json:"deleted"`
}

type tokenData struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// Dial creates a caller bound to a fresh routed session.
func (h *Handlers) Dial(c *gin.Context) {
	now := h.nowFn()
	caller := h.callers.Create(now)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.OpenTok.GatewayTimeout)
	defer cancel()

	sessionID, err := h.gateway.CreateSession(ctx, gateway.MediaModeRouted)
	if err != nil {
		h.logger.Error("create session failed", "caller_id", caller.ID, "error", err)
		_ = c.Error(err)
		return
	}

	token, err := h.participantToken(sessionID, caller.ID, userTypeCaller, now)
	if err != nil {
		h.logger.Error("caller token failed", "caller_id", caller.ID, "error", err)
		_ = c.Error(err)
		return
	}

	record, err := h.callers.Activate(caller, sessionID, token, now)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.logger.Info("caller dialed", "caller_id", record.CallerID, "session_id", sessionID)

	status := record.Status
	h.hub.Publish(websocket.Message{Type: websocket.TypeDialed, CallerID: status.CallerID, Data: &status})
	h.notifyAgents(status)

	c.JSON(http.StatusOK, dialResponse{
		CallerID: record.CallerID,
		APIKey:   h.gateway.APIKey(),
		Caller:   record,
	})
}

// JoinCall hands the agent a token for the caller's session and starts the call.
func (h *Handlers) JoinCall(c *gin.Context) {
	h.agentTransition(c, h.callers.StartCall)
}

// HoldCall puts the caller on hold. No token is minted.
func (h *Handlers) HoldCall(c *gin.Context) {
	id := c.Param("id")
	status, err := h.callers.Hold(id, h.nowFn())
	if err != nil {
		_ = c.Error(h.lookupError(id, err))
		return
	}
	c.JSON(http.StatusOK, callerResponse{Caller: status})
}

// UnholdCall mints a fresh agent token and resumes the call.
func (h *Handlers) UnholdCall(c *gin.Context) {
	h.agentTransition(c, h.callers.Unhold)
}

func (h *Handlers) agentTransition(c *gin.Context, apply func(string, time.Time) (callers.Status, error)) {
	id := c.Param("id")
	now := h.nowFn()

	sessionID, err := h.callers.Session(id, now)
	if err != nil {
		_ = c.Error(h.lookupError(id, err))
		return
	}

	token, err := h.participantToken(sessionID, agentUserID, userTypeAgent, now)
	if err != nil {
		h.logger.Error("agent token failed", "caller_id", id, "error", err)
		_ = c.Error(err)
		return
	}

	status, err := apply(id, now)
	if err != nil {
		_ = c.Error(h.lookupError(id, err))
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		APIKey:    h.gateway.APIKey(),
		SessionID: sessionID,
		Token:     token,
		Caller:    status,
	})
}

// DeleteCall removes the caller. Unknown ids still succeed.
func (h *Handlers) DeleteCall(c *gin.Context) {
	id := c.Param("id")
	if h.callers.Delete(id) {
		h.logger.Info("caller deleted", "caller_id", id)
		h.hub.Publish(websocket.Message{Type: websocket.TypeEnded, CallerID: id})
	}
	c.JSON(http.StatusOK, deleteResponse{Deleted: id})
}

func (h *Handlers) GetCall(c *gin.Context) {
	id := c.Param("id")
	status, err := h.callers.Get(id, h.nowFn())
	if err != nil {
		_ = c.Error(h.lookupError(id, err))
		return
	}
	c.JSON(http.StatusOK, callerResponse{Caller: status})
}

func (h *Handlers) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, listResponse{Callers: h.callers.List(h.nowFn())})
}

func (h *Handlers) participantToken(sessionID, userID, userType string, now time.Time) (string, error) {
	data, err := json.Marshal(tokenData{UserID: userID, UserType: userType})
	if err != nil {
		return "", fmt.Errorf("encode token data: %w", err)
	}
	return h.gateway.GenerateToken(sessionID, gateway.TokenOptions{
		Role:       gateway.RolePublisher,
		Data:       string(data),
		ExpireTime: now.Add(h.config.OpenTok.TokenTTL),
	})
}

func (h *Handlers) lookupError(id string, err error) error {
	if errors.Is(err, callers.ErrCallerNotFound) {
		return callerNotFound(id)
	}
	return err
}

// notifyAgents pushes a "caller waiting" notification in the background.
func (h *Handlers) notifyAgents(status callers.Status) {
	if h.push == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		if h.push.Len(ctx) == 0 {
			return
		}
		delivered := h.push.Broadcast(ctx, push.Notification{
			Title: "Caller waiting",
			Body:  fmt.Sprintf("Caller %s is waiting for an agent", status.CallerID),
			Data:  map[string]any{"callerId": status.CallerID},
		})
		h.logger.Debug("agents notified", "caller_id", status.CallerID, "delivered", delivered)
	}()
}
