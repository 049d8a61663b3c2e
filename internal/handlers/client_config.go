package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type clientConfigResponse struct {
	APIKey         string `json:"apiKey"`
	VAPIDPublicKey string `json:"vapidPublicKey,omitempty"`
	AgentAuth      bool   `json:"agentAuth"`
	Debug          bool   `json:"debug"`
}

func (h *Handlers) GetClientConfig(c *gin.Context) {
	resp := clientConfigResponse{
		APIKey:    h.gateway.APIKey(),
		AgentAuth: h.agents != nil,
		Debug:     h.config != nil && h.config.LogLevel == "debug",
	}
	if h.push != nil {
		resp.VAPIDPublicKey = h.push.PublicKey()
	}
	c.JSON(http.StatusOK, resp)
}
