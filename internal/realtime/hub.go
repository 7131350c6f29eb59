package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HubConfig tunes the notification history.
type HubConfig struct {
	HistoryCapacity int // most-recent notifications retained (FIFO eviction)
	ReplayCount     int // notifications replayed to a new channel
}

// DefaultHubConfig matches the production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{HistoryCapacity: 1000, ReplayCount: 10}
}

// Bridge publishes notifications to other instances (Redis pub/sub).
// Nil bridge means single-instance mode.
type Bridge interface {
	Publish(n Notification) error
}

// Hub is the pub/sub core. It constructs notifications, appends them to a
// bounded in-memory history, and hands them to the registry for fan-out.
// Broadcasts are fire-and-forget: per-channel delivery failures stay inside
// the registry.
type Hub struct {
	registry *Registry
	bridge   Bridge
	cfg      HubConfig
	logger   *zap.Logger

	mu      sync.Mutex
	history []Notification
}

// NewHub creates a hub over the given registry. bridge may be nil.
func NewHub(registry *Registry, bridge Bridge, cfg HubConfig, logger *zap.Logger) *Hub {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHubConfig().HistoryCapacity
	}
	if cfg.ReplayCount <= 0 {
		cfg.ReplayCount = DefaultHubConfig().ReplayCount
	}
	return &Hub{registry: registry, bridge: bridge, cfg: cfg, logger: logger}
}

// Registry exposes the underlying connection registry to transport handlers.
func (h *Hub) Registry() *Registry { return h.registry }

// Emit broadcasts an event on the wildcard topic.
func (h *Hub) Emit(event string, data map[string]any) Notification {
	return h.Broadcast(event, data, TopicAll)
}

// BroadcastToTopic broadcasts an event scoped to one topic.
func (h *Hub) BroadcastToTopic(topic, event string, data map[string]any) Notification {
	return h.Broadcast(event, data, topic)
}

// Broadcast builds a notification, records it, fans it out locally, and
// forwards it to the bridge for other instances.
func (h *Hub) Broadcast(event string, data map[string]any, topic string) Notification {
	n := NewNotification(event, data, topic)
	h.append(n)
	h.registry.Publish(n)
	if h.bridge != nil {
		if err := h.bridge.Publish(n); err != nil {
			h.logger.Warn("bridge publish failed", zap.String("event", event), zap.Error(err))
		}
	}
	return n
}

// Trigger translates an internal server-side event into its public
// notification and broadcasts it. The translation table is the closed set of
// Trigger implementations in trigger.go.
func (h *Hub) Trigger(t Trigger) Notification {
	event, topic, data := t.notification()
	return h.Broadcast(event, data, topic)
}

// HandleRemote replays a notification received from another instance to the
// local channels without re-publishing it to the bridge.
func (h *Hub) HandleRemote(n Notification) {
	h.append(n)
	h.registry.Publish(n)
}

// RecentFor returns the most recent notifications visible to a channel with
// the given subscriptions, oldest first, capped at the replay count.
func (h *Hub) RecentFor(topics []string) []Notification {
	all := false
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if t == TopicAll {
			all = true
		}
		set[t] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Notification
	for i := len(h.history) - 1; i >= 0 && len(out) < h.cfg.ReplayCount; i-- {
		n := h.history[i]
		if _, ok := set[n.Topic]; all || ok {
			out = append(out, n)
		}
	}
	// collected newest-first; reverse to chronological
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Connect sends the connected frame and a replay of recent history, then
// registers the channel for live delivery. This is the streaming endpoint
// contract shared by both transports. The replay is snapshotted before
// registration, so a broadcast racing the handshake can never reach the
// channel both live and again through the replay.
func (h *Hub) Connect(ch Channel, topics []string) {
	replay := h.RecentFor(append([]string{TopicAll}, topics...))
	connected := NewFrame("connected", map[string]any{
		"clientId":  ch.ID(),
		"timestamp": time.Now(),
	})
	if err := ch.Send(connected); err != nil {
		return
	}
	for _, n := range replay {
		if err := ch.Send(n.Frame()); err != nil {
			return
		}
	}
	h.registry.Register(ch)
	if len(topics) > 0 {
		h.registry.Subscribe(ch.ID(), topics)
	}
}

// Stats combines registry stats with the history size.
func (h *Hub) Stats() Stats {
	s := h.registry.Stats()
	h.mu.Lock()
	s.HistorySize = len(h.history)
	h.mu.Unlock()
	return s
}

func (h *Hub) append(n Notification) {
	h.mu.Lock()
	h.history = append(h.history, n)
	if over := len(h.history) - h.cfg.HistoryCapacity; over > 0 {
		h.history = append(h.history[:0:0], h.history[over:]...)
	}
	h.mu.Unlock()
}
