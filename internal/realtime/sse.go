package realtime

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServeSSE handles the push-stream subscribe endpoint. On connect it assigns
// a channel, sends the connected frame, replays recent history, then streams
// live notifications until the client goes away. Extra topics beyond the
// wildcard come from ?topics=a,b.
func ServeSSE(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)

		ch, err := NewSSEChannel(c.Writer)
		if err != nil {
			logger.Warn("sse not supported by client connection", zap.Error(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		hub.Connect(ch, parseTopics(c.Query("topics")))

		select {
		case <-c.Request.Context().Done():
			hub.Registry().Deregister(ch.ID())
		case <-ch.Done():
			hub.Registry().Deregister(ch.ID())
		}
	}
}

func parseTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
