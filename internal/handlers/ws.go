package handlers

import (
	"github.com/tariel-x/agentdesk/internal/websocket"

	"github.com/gin-gonic/gin"
)

// HandleWebSocket streams caller events to an agent dashboard. With a
// caller_id query parameter only that caller's events are sent.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	callerID := c.Query("caller_id")
	if callerID != "" {
		if _, err := h.callers.Get(callerID, h.nowFn()); err != nil {
			_ = c.Error(h.lookupError(callerID, err))
			return
		}
	}

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "caller_id", callerID, "error", err)
		return
	}

	client, err := websocket.NewClient(conn, callerID)
	if err != nil {
		_ = conn.Close()
		h.logger.Error("ws client init failed", "error", err)
		return
	}

	h.hub.Serve(client)
}
