package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RegistryConfig tunes heartbeats and the idle sweep.
type RegistryConfig struct {
	HeartbeatInterval time.Duration // keep-alive frame cadence
	IdleTimeout       time.Duration // channels idle beyond this are dropped
	SweepInterval     time.Duration // how often the idle sweep runs
}

// DefaultRegistryConfig matches the production defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		SweepInterval:     time.Minute,
	}
}

// Stats is the health-check snapshot of the registry.
type Stats struct {
	PushStreamCount      int            `json:"push_stream_count"`
	SocketCount          int            `json:"socket_count"`
	TotalConnections     int            `json:"total_connections"`
	SubscriptionsByTopic map[string]int `json:"subscriptions_by_topic"`
	HistorySize          int            `json:"history_size"`
}

// conn is a registered channel plus its registry-owned metadata.
type conn struct {
	channel      Channel
	topics       map[string]struct{}
	connectedAt  time.Time
	lastActivity time.Time
}

// Registry owns every live channel and its topic subscriptions. Fan-out uses
// a reverse index topic -> channel ids. All maps are guarded by one RWMutex;
// transport writes happen outside the lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*conn
	// reverse index for fan-out
	topics map[string]map[string]struct{}

	cfg    RegistryConfig
	logger *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry creates an empty registry. Call Start to run the heartbeat and
// idle-sweep loops; tests drive Heartbeat/CleanupInactive directly.
func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultRegistryConfig().HeartbeatInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultRegistryConfig().IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultRegistryConfig().SweepInterval
	}
	return &Registry{
		conns:  make(map[string]*conn),
		topics: make(map[string]map[string]struct{}),
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Register adds a channel, default-subscribed to the wildcard topic.
func (r *Registry) Register(ch Channel) string {
	now := time.Now()
	r.mu.Lock()
	r.conns[ch.ID()] = &conn{
		channel:      ch,
		topics:       map[string]struct{}{TopicAll: {}},
		connectedAt:  now,
		lastActivity: now,
	}
	r.indexLocked(TopicAll, ch.ID())
	r.mu.Unlock()

	r.logger.Debug("channel registered",
		zap.String("channel_id", ch.ID()),
		zap.String("transport", string(ch.Transport())))
	return ch.ID()
}

// Deregister closes a channel and removes it from every topic set.
// Deregistering an unknown or already-closed channel is a no-op.
func (r *Registry) Deregister(channelID string) {
	r.mu.Lock()
	cn, ok := r.conns[channelID]
	if ok {
		delete(r.conns, channelID)
		for topic := range cn.topics {
			r.unindexLocked(topic, channelID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = cn.channel.Close()
	r.logger.Debug("channel deregistered", zap.String("channel_id", channelID))
}

// Subscribe adds topics to a channel's set and acknowledges over the channel.
func (r *Registry) Subscribe(channelID string, topics []string) {
	r.mu.Lock()
	cn, ok := r.conns[channelID]
	if ok {
		for _, t := range topics {
			cn.topics[t] = struct{}{}
			r.indexLocked(t, channelID)
		}
		cn.lastActivity = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.sendOrDrop(cn.channel, NewFrame("subscribed", map[string]any{"topics": topics}))
}

// Unsubscribe removes topics from a channel's set and acknowledges.
func (r *Registry) Unsubscribe(channelID string, topics []string) {
	r.mu.Lock()
	cn, ok := r.conns[channelID]
	if ok {
		for _, t := range topics {
			delete(cn.topics, t)
			r.unindexLocked(t, channelID)
		}
		cn.lastActivity = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.sendOrDrop(cn.channel, NewFrame("unsubscribed", map[string]any{"topics": topics}))
}

// TopicsOf returns a copy of the channel's current subscriptions.
func (r *Registry) TopicsOf(channelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cn, ok := r.conns[channelID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(cn.topics))
	for t := range cn.topics {
		out = append(out, t)
	}
	return out
}

// Touch records activity for a channel (inbound message, heartbeat ack).
func (r *Registry) Touch(channelID string) {
	r.mu.Lock()
	if cn, ok := r.conns[channelID]; ok {
		cn.lastActivity = time.Now()
	}
	r.mu.Unlock()
}

// Publish fans a notification out to every channel subscribed to the
// wildcard topic or the notification's topic. A failed delivery deregisters
// that channel only; it never aborts delivery to the rest.
func (r *Registry) Publish(n Notification) {
	frame := n.Frame()

	r.mu.RLock()
	targets := make([]Channel, 0, len(r.conns))
	seen := make(map[string]struct{})
	for _, topic := range []string{TopicAll, n.Topic} {
		for id := range r.topics[topic] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if cn, ok := r.conns[id]; ok {
				targets = append(targets, cn.channel)
			}
		}
	}
	r.mu.RUnlock()

	for _, ch := range targets {
		if err := ch.Send(frame); err != nil {
			r.logger.Warn("delivery failed, dropping channel",
				zap.String("channel_id", ch.ID()),
				zap.String("event", n.Event),
				zap.Error(err))
			r.Deregister(ch.ID())
		}
	}
}

// Heartbeat sends one keep-alive frame to every channel. A write failure
// deregisters the channel immediately; a success counts as activity.
func (r *Registry) Heartbeat() {
	frame := NewFrame("ping", map[string]any{"timestamp": time.Now()})

	r.mu.RLock()
	targets := make([]Channel, 0, len(r.conns))
	for _, cn := range r.conns {
		targets = append(targets, cn.channel)
	}
	r.mu.RUnlock()

	for _, ch := range targets {
		if err := ch.Send(frame); err != nil {
			r.Deregister(ch.ID())
			continue
		}
		r.Touch(ch.ID())
	}
}

// CleanupInactive deregisters every channel idle longer than timeout.
func (r *Registry) CleanupInactive(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	var idle []string
	for id, cn := range r.conns {
		if cn.lastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range idle {
		r.logger.Info("dropping inactive channel", zap.String("channel_id", id))
		r.Deregister(id)
	}
}

// Stats returns connection counts and the subscription map. HistorySize is
// filled in by the hub.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{SubscriptionsByTopic: make(map[string]int, len(r.topics))}
	for _, cn := range r.conns {
		switch cn.channel.Transport() {
		case TransportSSE:
			s.PushStreamCount++
		case TransportWebSocket:
			s.SocketCount++
		}
	}
	s.TotalConnections = len(r.conns)
	for topic, members := range r.topics {
		s.SubscriptionsByTopic[topic] = len(members)
	}
	return s
}

// Start runs the heartbeat and idle-sweep loops until Shutdown.
func (r *Registry) Start() {
	go r.loop(r.cfg.HeartbeatInterval, r.Heartbeat)
	go r.loop(r.cfg.SweepInterval, func() { r.CleanupInactive(r.cfg.IdleTimeout) })
}

// Shutdown stops the loops and closes every channel with a close frame.
// Must be called before process exit.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Deregister(id)
	}
	r.logger.Info("connection registry shut down", zap.Int("channels_closed", len(ids)))
}

func (r *Registry) loop(every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sendOrDrop delivers a single frame, deregistering the channel on failure.
func (r *Registry) sendOrDrop(ch Channel, f Frame) {
	if err := ch.Send(f); err != nil {
		r.Deregister(ch.ID())
	}
}

// indexLocked and unindexLocked maintain the reverse topic index.
// Callers hold r.mu.
func (r *Registry) indexLocked(topic, channelID string) {
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[string]struct{})
	}
	r.topics[topic][channelID] = struct{}{}
}

func (r *Registry) unindexLocked(topic, channelID string) {
	if members, ok := r.topics[topic]; ok {
		delete(members, channelID)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
}
