package handlers

import (
	"errors"
	"net/http"

	"github.com/tariel-x/agentdesk/internal/push"

	"github.com/gin-gonic/gin"
)

var errPushDisabled = &httpError{status: http.StatusNotFound, message: "Push notifications are disabled"}

type pushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *Handlers) SubscribePush(c *gin.Context) {
	if h.push == nil {
		_ = c.Error(errPushDisabled)
		return
	}

	var sub push.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		_ = c.Error(&httpError{status: http.StatusBadRequest, message: "Invalid subscription: " + err.Error()})
		return
	}
	if err := h.push.Subscribe(c.Request.Context(), sub); err != nil {
		if errors.Is(err, push.ErrInvalidSubscription) {
			_ = c.Error(&httpError{status: http.StatusBadRequest, message: err.Error()})
			return
		}
		h.logger.Error("push subscribe failed", "endpoint", sub.Endpoint, "error", err)
		_ = c.Error(err)
		return
	}

	h.logger.Info("push subscribed", "endpoint", sub.Endpoint, "subscriptions", h.push.Len(c.Request.Context()))
	c.JSON(http.StatusCreated, gin.H{"endpoint": sub.Endpoint})
}

func (h *Handlers) UnsubscribePush(c *gin.Context) {
	if h.push == nil {
		_ = c.Error(errPushDisabled)
		return
	}

	var req pushUnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(&httpError{status: http.StatusBadRequest, message: "Invalid request: " + err.Error()})
		return
	}
	ok, err := h.push.Unsubscribe(c.Request.Context(), req.Endpoint)
	if err != nil {
		h.logger.Error("push unsubscribe failed", "endpoint", req.Endpoint, "error", err)
		_ = c.Error(err)
		return
	}
	if !ok {
		_ = c.Error(&httpError{status: http.StatusNotFound, message: "Subscription not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": req.Endpoint})
}
