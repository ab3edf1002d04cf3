package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrConnClosed is returned by Send after the connection was closed.
	ErrConnClosed = errors.New("realtime: connection closed")
	// ErrSendBufferFull is returned by Send when a slow client filled the
	// outbound buffer; the connection is dropped to keep backpressure bounded.
	ErrSendBufferFull = errors.New("realtime: send buffer full")
)

// ConnOptions tunes the outbound side of a Connection. Zero values fall back
// to the defaults.
type ConnOptions struct {
	// WriteWait bounds each websocket write, pings included.
	WriteWait time.Duration
	// PingPeriod is the keepalive interval; it must be shorter than the
	// peer's read deadline or healthy clients get reaped.
	PingPeriod time.Duration
	// SendBuffer is the outbound queue depth before the client counts as slow.
	SendBuffer int
	// OnOverflow fires once when the buffer overflow drops the connection.
	OnOverflow func()
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 128
	}
	return o
}

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel. A connection is uniquely identified per user session and
// is safe for concurrent use.
type Connection struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	opts   ConnOptions
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewConnection constructs a Connection for the given user.
func NewConnection(userID string, ws *websocket.Conn, opts ConnOptions) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		closed: make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery. A full buffer means the client stopped
// draining; the connection is closed and ErrSendBufferFull returned.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		if fn := c.opts.OnOverflow; fn != nil {
			fn()
		}
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close terminates the connection and stops the write loop.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
