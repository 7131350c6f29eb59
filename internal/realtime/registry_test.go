package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeChannel records frames and can be told to fail sends.
type fakeChannel struct {
	id        string
	transport Transport

	mu       sync.Mutex
	frames   []Frame
	failSend bool
	closed   bool
	done     chan struct{}
	onSend   func(Frame)
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id, transport: TransportSSE, done: make(chan struct{})}
}

func (c *fakeChannel) ID() string            { return c.id }
func (c *fakeChannel) Transport() Transport  { return c.transport }
func (c *fakeChannel) Done() <-chan struct{} { return c.done }

func (c *fakeChannel) Send(f Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.failSend {
		c.mu.Unlock()
		return errors.New("send failed")
	}
	c.frames = append(c.frames, f)
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeChannel) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Event
	}
	return out
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(DefaultRegistryConfig(), zap.NewNop())
}

func countEvent(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}
	return n
}

func TestRegistry_PublishReachesWildcardSubscribers(t *testing.T) {
	r := newTestRegistry(t)
	a := newFakeChannel("a")
	b := newFakeChannel("b")
	r.Register(a)
	r.Register(b)

	r.Publish(NewNotification("talk_submitted", nil, TopicAll))

	for _, ch := range []*fakeChannel{a, b} {
		if got := countEvent(ch.events(), "talk_submitted"); got != 1 {
			t.Errorf("channel %s received %d deliveries, want 1", ch.id, got)
		}
	}
}

func TestRegistry_TopicIsolation(t *testing.T) {
	r := newTestRegistry(t)
	a := newFakeChannel("a")
	b := newFakeChannel("b")
	r.Register(a)
	r.Register(b)
	// drop the wildcard so each channel sees only its own topic
	r.Unsubscribe(a.id, []string{TopicAll})
	r.Unsubscribe(b.id, []string{TopicAll})
	r.Subscribe(a.id, []string{"x"})
	r.Subscribe(b.id, []string{"y"})

	r.Publish(NewNotification("e", nil, "x"))

	if got := countEvent(a.events(), "e"); got != 1 {
		t.Errorf("subscriber of x received %d deliveries, want 1", got)
	}
	if got := countEvent(b.events(), "e"); got != 0 {
		t.Errorf("subscriber of y received %d deliveries, want 0", got)
	}

	stats := r.Stats()
	if stats.SubscriptionsByTopic["x"] != 1 {
		t.Errorf("subscriptionsByTopic[x] = %d, want 1", stats.SubscriptionsByTopic["x"])
	}
}

func TestRegistry_PublishNoDoubleDeliveryForTopicAndWildcard(t *testing.T) {
	r := newTestRegistry(t)
	a := newFakeChannel("a")
	r.Register(a)
	r.Subscribe(a.id, []string{"x"})

	// subscribed to both "all" and "x"; one delivery only
	r.Publish(NewNotification("e", nil, "x"))

	if got := countEvent(a.events(), "e"); got != 1 {
		t.Errorf("received %d deliveries, want 1", got)
	}
}

func TestRegistry_FailedDeliveryDeregistersOnlyThatChannel(t *testing.T) {
	r := newTestRegistry(t)
	bad := newFakeChannel("bad")
	bad.failSend = true
	good := newFakeChannel("good")
	r.Register(bad)
	r.Register(good)

	r.Publish(NewNotification("e", nil, TopicAll))

	if got := countEvent(good.events(), "e"); got != 1 {
		t.Errorf("healthy channel received %d deliveries, want 1", got)
	}
	if r.Stats().TotalConnections != 1 {
		t.Errorf("total connections = %d, want 1 after dropping failed channel", r.Stats().TotalConnections)
	}
	if !bad.closed {
		t.Error("failed channel should be closed on deregistration")
	}
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	a := newFakeChannel("a")
	r.Register(a)

	r.Deregister(a.id)
	r.Deregister(a.id) // double-close must be a no-op
	r.Deregister("never-registered")

	if got := r.Stats().TotalConnections; got != 0 {
		t.Errorf("total connections = %d, want 0", got)
	}
}

func TestRegistry_SubscribeSendsAck(t *testing.T) {
	r := newTestRegistry(t)
	a := newFakeChannel("a")
	r.Register(a)

	r.Subscribe(a.id, []string{"x", "y"})
	r.Unsubscribe(a.id, []string{"y"})

	events := a.events()
	if countEvent(events, "subscribed") != 1 {
		t.Errorf("events = %v, want one subscribed ack", events)
	}
	if countEvent(events, "unsubscribed") != 1 {
		t.Errorf("events = %v, want one unsubscribed ack", events)
	}
}

func TestRegistry_HeartbeatDropsFailingChannel(t *testing.T) {
	r := newTestRegistry(t)
	bad := newFakeChannel("bad")
	bad.failSend = true
	good := newFakeChannel("good")
	r.Register(bad)
	r.Register(good)

	r.Heartbeat()

	if got := countEvent(good.events(), "ping"); got != 1 {
		t.Errorf("healthy channel received %d pings, want 1", got)
	}
	if got := r.Stats().TotalConnections; got != 1 {
		t.Errorf("total connections = %d, want 1", got)
	}
}

func TestRegistry_CleanupInactive(t *testing.T) {
	r := newTestRegistry(t)
	idle := newFakeChannel("idle")
	busy := newFakeChannel("busy")
	r.Register(idle)
	r.Register(busy)

	// age both, then refresh one
	r.mu.Lock()
	for _, cn := range r.conns {
		cn.lastActivity = time.Now().Add(-5 * time.Minute)
	}
	r.mu.Unlock()
	r.Touch(busy.id)

	r.CleanupInactive(2 * time.Minute)

	if got := r.Stats().TotalConnections; got != 1 {
		t.Fatalf("total connections = %d, want 1", got)
	}
	if !idle.closed {
		t.Error("idle channel should be closed")
	}
	if busy.closed {
		t.Error("active channel should stay open")
	}
}

func TestRegistry_StatsCountsTransports(t *testing.T) {
	r := newTestRegistry(t)
	sse := newFakeChannel("sse")
	ws := newFakeChannel("ws")
	ws.transport = TransportWebSocket
	r.Register(sse)
	r.Register(ws)

	stats := r.Stats()
	if stats.PushStreamCount != 1 || stats.SocketCount != 1 || stats.TotalConnections != 2 {
		t.Errorf("stats = %+v, want 1 push stream, 1 socket, 2 total", stats)
	}
	if stats.SubscriptionsByTopic[TopicAll] != 2 {
		t.Errorf("subscriptionsByTopic[all] = %d, want 2", stats.SubscriptionsByTopic[TopicAll])
	}
}

func TestRegistry_ShutdownClosesAllChannels(t *testing.T) {
	r := newTestRegistry(t)
	a := newFakeChannel("a")
	b := newFakeChannel("b")
	r.Register(a)
	r.Register(b)

	r.Shutdown()

	if !a.closed || !b.closed {
		t.Error("all channels should be closed after shutdown")
	}
	if got := r.Stats().TotalConnections; got != 0 {
		t.Errorf("total connections = %d, want 0", got)
	}
}
