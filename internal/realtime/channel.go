package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Transport distinguishes the two delivery mechanics. The registry and hub
// treat channels uniformly through the Channel interface.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

// ErrChannelClosed is returned by Send after a channel has been closed or its
// underlying transport has failed.
var ErrChannelClosed = errors.New("realtime: channel closed")

// Channel is one live push connection to a client. Send must never block on a
// slow consumer; implementations buffer and drop instead. Close is
// idempotent and delivers a close frame when the transport allows it.
type Channel interface {
	ID() string
	Transport() Transport
	Send(f Frame) error
	Close() error
	// Done is closed when the channel has terminated, for the handler
	// goroutine holding the HTTP response open.
	Done() <-chan struct{}
}

// sendBufferSize bounds the per-channel outbound queue. Frames beyond it are
// dropped for that channel; the idle sweep reaps consumers that stay stuck.
const sendBufferSize = 256

// writeWait is the per-frame write deadline for WebSocket channels.
const writeWait = 10 * time.Second

// SSEChannel delivers frames as Server-Sent-Events on a streaming HTTP
// response.
type SSEChannel struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSSEChannel wraps a streaming response writer. The writer must implement
// http.Flusher.
func NewSSEChannel(w http.ResponseWriter) (*SSEChannel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("realtime: response writer does not support streaming")
	}
	return &SSEChannel{
		id:      uuid.New().String(),
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}, nil
}

func (c *SSEChannel) ID() string           { return c.id }
func (c *SSEChannel) Transport() Transport { return TransportSSE }
func (c *SSEChannel) Done() <-chan struct{} { return c.done }

// Send writes one SSE event. Writes are serialized; a failed write marks the
// channel closed.
func (c *SSEChannel) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", f.Event, f.Data); err != nil {
		c.closeLocked()
		return fmt.Errorf("sse write: %w", err)
	}
	c.flusher.Flush()
	return nil
}

// Close emits a final close event and ends the stream.
func (c *SSEChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_, _ = fmt.Fprint(c.w, "event: close\ndata: {}\n\n")
	c.flusher.Flush()
	c.closeLocked()
	return nil
}

func (c *SSEChannel) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// WSChannel delivers frames over a WebSocket connection. A single writer
// goroutine drains a buffered queue so broadcasts never block on the socket.
type WSChannel struct {
	id   string
	conn *websocket.Conn
	send chan Frame

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWSChannel wraps an upgraded connection and starts its write pump.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan Frame, sendBufferSize),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *WSChannel) ID() string            { return c.id }
func (c *WSChannel) Transport() Transport  { return TransportWebSocket }
func (c *WSChannel) Done() <-chan struct{} { return c.done }

// Conn exposes the underlying connection for the read loop.
func (c *WSChannel) Conn() *websocket.Conn { return c.conn }

// Send enqueues a frame. A full buffer drops the frame for this channel only;
// a closed channel reports ErrChannelClosed so the registry deregisters it.
func (c *WSChannel) Send(f Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		// buffer full, skip
	}
	return nil
}

// Close sends a close frame and tears the connection down. Idempotent.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *WSChannel) writePump() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.markFailed()
				return
			}
		}
	}
}

// markFailed closes the channel without attempting a close frame; the
// transport write already failed.
func (c *WSChannel) markFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		_ = c.conn.Close()
	}
}
