// Package realtime implements the push layer: a connection registry tracking
// live SSE and WebSocket channels with per-topic subscriptions, and a
// notification hub that fans events out to subscribers and keeps a bounded
// history for late joiners.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TopicAll is the wildcard topic. Every channel subscribes to it on connect;
// notifications published to it reach every channel that kept the
// subscription.
const TopicAll = "all"

// Notification is a named event fanned out to subscribed channels.
// Notifications are ephemeral: they live only in the hub's bounded history.
type Notification struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Topic     string         `json:"topic"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewNotification builds a notification with a fresh id and timestamp.
// An empty topic defaults to TopicAll.
func NewNotification(event string, data map[string]any, topic string) Notification {
	if topic == "" {
		topic = TopicAll
	}
	return Notification{
		ID:        uuid.New().String(),
		Event:     event,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Frame is the wire envelope written to a channel, for both transports.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame. Marshal failures yield an empty
// data field rather than an error; payloads are built in-process.
func NewFrame(event string, payload any) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Event: event, Data: data}
}

// Frame converts the notification to its wire form.
func (n Notification) Frame() Frame {
	return NewFrame(n.Event, map[string]any{
		"id":        n.ID,
		"topic":     n.Topic,
		"data":      n.Data,
		"timestamp": n.Timestamp,
	})
}
