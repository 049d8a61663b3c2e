package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/tariel-x/agentdesk/internal/auth"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AgentLogin exchanges the shared agent password for a session token.
func (h *Handlers) AgentLogin(c *gin.Context) {
	if h.agents == nil {
		_ = c.Error(&httpError{status: http.StatusNotFound, message: "Agent login is disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(&httpError{status: http.StatusBadRequest, message: "Password is required"})
		return
	}

	token, expires, err := h.agents.Login(req.Password, h.nowFn())
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			h.logger.Warn("agent login rejected", "remote_addr", c.ClientIP())
			_ = c.Error(&httpError{status: http.StatusUnauthorized, message: "Invalid password"})
			return
		}
		_ = c.Error(err)
		return
	}

	h.logger.Info("agent logged in", "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}
