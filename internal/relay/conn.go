package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// outboundQueueSize bounds the per-connection send queue
	outboundQueueSize = 100
	// writeTimeout bounds a single frame write
	writeTimeout = 10 * time.Second
	// maxMessageSize bounds inbound frames; clients only send control traffic
	maxMessageSize = 4096
)

// ErrQueueFull is returned when a connection's outbound queue is full
var ErrQueueFull = errors.New("outbound queue is full")

// Meta is the session snapshot attached to a live connection at
// handshake time.
type Meta struct {
	SessionID string
	UID       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Conn is one live client connection. Events queued via Send are
// written to the socket by a dedicated write pump; Close drains the
// queue before closing the socket.
type Conn struct {
	id     string
	meta   Meta
	ws     *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan *Envelope
}

func newConn(ws *websocket.Conn, meta Meta, logger *zap.Logger) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		meta:   meta,
		ws:     ws,
		logger: logger.Named("relay.conn"),
		queue:  make(chan *Envelope, outboundQueueSize),
	}
}

// ID returns the connection handle, unique per live connection
func (c *Conn) ID() string {
	return c.id
}

// Meta returns the session snapshot attached at handshake time
func (c *Conn) Meta() Meta {
	return c.meta
}

// Send queues an event for delivery. Sending to a closed or closing
// connection is a no-op, not an error.
func (c *Conn) Send(ev *Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	select {
	case c.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and lets the write pump drain what is
// already queued before closing the socket. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump writes queued events to the socket until the queue is
// closed, then closes the socket.
func (c *Conn) writePump() {
	for ev := range c.queue {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteJSON(ev); err != nil {
			c.logger.Debug("write failed",
				zap.String("id", c.id),
				zap.Error(err))
			break
		}
	}
	_ = c.ws.Close()
}

// readPump consumes the socket until it errors, then invokes onClose.
// Inbound application data is not part of the protocol and is
// discarded.
func (c *Conn) readPump(onClose func()) {
	defer onClose()

	c.ws.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
