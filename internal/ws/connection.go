package ws

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coachline/pkg/types"
)

// Connection wraps a websocket with a single writer goroutine so
// concurrent broadcasts never interleave frames. Identity fields are set
// from the verified token at construction and never mutated; by the time
// a Connection exists, authentication has already succeeded.
type Connection struct {
	id        string
	identity  types.Identity
	conn      *websocket.Conn
	writeCh   chan []byte
	sendWait  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	createdAt time.Time
}

// NewConnection builds the wrapper and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, identity types.Identity, sendBuffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.New().String(),
		identity:  identity,
		conn:      conn,
		writeCh:   make(chan []byte, sendBuffer),
		sendWait:  writeTimeout,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }
func (c *Connection) UserID() string { return c.identity.UserID }
func (c *Connection) Role() string { return c.identity.Role }
func (c *Connection) DisplayName() string { return c.identity.DisplayName }

// Send marshals the event envelope and queues it for the writer. It
// fails when the connection is closed or the send buffer stays full for
// the write timeout.
func (c *Connection) Send(event string, payload any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(types.ServerEvent{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return ErrInvalidPayload
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.sendWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close cancels the writer and closes the socket. Safe to call multiple
// times and from any goroutine.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
