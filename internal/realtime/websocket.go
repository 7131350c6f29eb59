package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// clientMessage is the inbound socket message contract.
type clientMessage struct {
	Type    string   `json:"type"` // subscribe | unsubscribe | chat | ping
	Topics  []string `json:"topics,omitempty"`
	Message string   `json:"message,omitempty"`
	Author  string   `json:"author,omitempty"`
}

const readLimit = 65536

// ServeWs upgrades the connection, registers a socket channel, and runs the
// read loop for subscribe/unsubscribe/chat messages until disconnect.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		ch := NewWSChannel(conn)
		hub.Connect(ch, parseTopics(c.Query("topics")))
		readLoop(hub, ch, logger)
	}
}

func readLoop(hub *Hub, ch *WSChannel, logger *zap.Logger) {
	defer hub.Registry().Deregister(ch.ID())

	conn := ch.Conn()
	conn.SetReadLimit(readLimit)
	conn.SetPongHandler(func(string) error {
		hub.Registry().Touch(ch.ID())
		return nil
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", zap.String("channel_id", ch.ID()), zap.Error(err))
			}
			return
		}
		hub.Registry().Touch(ch.ID())

		switch msg.Type {
		case "subscribe":
			hub.Registry().Subscribe(ch.ID(), msg.Topics)
		case "unsubscribe":
			hub.Registry().Unsubscribe(ch.ID(), msg.Topics)
		case "chat":
			if msg.Message == "" {
				continue
			}
			hub.Trigger(ChatMessage{Author: msg.Author, Message: msg.Message})
		case "ping":
			_ = ch.Send(NewFrame("pong", map[string]any{"timestamp": time.Now()}))
		default:
			// ignore
		}
	}
}
