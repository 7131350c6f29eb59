package realtime

import (
	"github.com/gin-gonic/gin"

	"github.com/flashtalks/backend/pkg/response"
)

// BroadcastRequest is the body for POST /notifications/broadcast, the manual
// trigger surface for in-process collaborators and operators.
type BroadcastRequest struct {
	Event string         `json:"event" binding:"required"`
	Data  map[string]any `json:"data"`
	Topic string         `json:"topic"`
}

// Handler adapts the hub's non-streaming surface to HTTP.
type Handler struct {
	hub *Hub
}

// NewHandler creates a notifications handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Broadcast handles POST /notifications/broadcast.
func (h *Handler) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: event required")
		return
	}
	n := h.hub.Broadcast(req.Event, req.Data, req.Topic)
	response.OK(c, gin.H{"id": n.ID, "event": n.Event, "topic": n.Topic})
}

// Stats handles GET /notifications/stats for health checks.
func (h *Handler) Stats(c *gin.Context) {
	response.OK(c, h.hub.Stats())
}
