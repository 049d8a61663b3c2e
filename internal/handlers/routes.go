package handlers

import (
	"net/http"

	"github.com/tariel-x/agentdesk/internal/auth"

	"github.com/gin-gonic/gin"
)

// Register mounts the API on router. The error responder is installed first
// so every route below funnels its failures through it.
func (h *Handlers) Register(router *gin.Engine) {
	router.Use(ErrorResponder())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "callers": h.callers.Len()})
	})

	router.GET("/dial", h.Dial)
	router.GET("/call/:id/join", h.JoinCall)
	router.GET("/call/:id/hold", h.HoldCall)
	router.GET("/call/:id/unhold", h.UnholdCall)
	router.GET("/call/:id/delete", h.DeleteCall)
	router.GET("/call/:id", h.GetCall)

	api := router.Group("/api")
	{
		api.GET("/config", h.GetClientConfig)
		api.POST("/agent/login", h.AgentLogin)
	}

	agent := router.Group("")
	if h.agents != nil {
		agent.Use(auth.RequireAgent(h.agents))
	}
	{
		agent.GET("/calls", h.ListCalls)
		agent.GET("/api/ws", h.HandleWebSocket)
		agent.POST("/api/push/subscribe", h.SubscribePush)
		agent.DELETE("/api/push/subscribe", h.UnsubscribePush)
	}
}
