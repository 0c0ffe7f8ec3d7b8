package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/models"
)

// DefaultDialer is the default gorilla dialer used by the Connection
//
// It uses the default gorilla dialer with the following modifications:
// - EnableCompression is set to true
// - Subprotocols is set to ["io.cozy.websocket"]
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{constants.Subprotocol},
}

// Connection is a realtime Transport over gorilla/websocket.
//
// A Connection is used for a single socket: once it is lost or closed,
// a new one has to be created.
type Connection struct {
	*connection.Toolkit

	// Dialer defaults to DefaultDialer.
	Dialer *gorilla.Dialer

	conn *gorilla.Conn
	// connLock serializes writes and guards conn.
	connLock sync.Mutex

	// closed is set once by Close. It cannot be reset.
	closed bool
}

var _ connection.Transport = (*Connection)(nil)

var _ connection.NewFunc = New

// New returns an unconnected Connection reporting to l.
func New(cfg *connection.Config, l connection.Listener) (connection.Transport, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("gorillaws: missing socket url")
	}
	return &Connection{
		Toolkit: connection.NewToolkit(cfg, l),
		Dialer:  DefaultDialer,
	}, nil
}

// Connect dials the realtime endpoint and starts reading from it.
func (c *Connection) Connect(ctx context.Context) error {
	conn, res, err := c.Dialer.DialContext(ctx, c.Config.URL, c.Config.Header)
	if res != nil && res.Body != nil {
		defer res.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("gorillaws: dial %s: %w", c.Config.URL, err)
	}

	c.connLock.Lock()
	if c.closed {
		c.connLock.Unlock()
		_ = conn.Close()
		return constants.ErrClosed
	}
	c.conn = conn
	c.connLock.Unlock()

	// The read loop runs until the socket fails or Close is called.
	go c.readLoop(conn)

	return nil
}

func (c *Connection) IsOpen() bool {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	return c.conn != nil && !c.closed
}

func (c *Connection) Authenticate(ctx context.Context, token string) error {
	return c.write(ctx, connection.AuthCommand(token))
}

func (c *Connection) Subscribe(ctx context.Context, target models.Target) error {
	return c.write(ctx, connection.SubscribeCommand(target))
}

func (c *Connection) Unsubscribe(ctx context.Context, target models.Target) error {
	return c.write(ctx, connection.UnsubscribeCommand(target))
}

// Close closes the WebSocket connection and stops listening for incoming messages.
//
// The close frame write is bounded by the deadline of ctx, if any. The
// underlying connection is closed whether or not the close frame made it.
// The listener is not notified of a deliberate Close.
func (c *Connection) Close(ctx context.Context) error {
	c.Silence()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	conn := c.conn
	c.conn = nil
	if conn == nil {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	msg := gorilla.FormatCloseMessage(constants.CloseMessageCode, "")
	if err := conn.WriteControl(gorilla.CloseMessage, msg, deadline); err != nil && !errors.Is(err, gorilla.ErrCloseSent) {
		// Still close locally, even though the server may not learn about it in time.
		c.Logger().Debug("gorillaws: failed to write close message", "error", err)
	}

	return conn.Close()
}

func (c *Connection) write(ctx context.Context, cmd connection.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := c.Encode(cmd)
	if err != nil {
		return fmt.Errorf("gorillaws: encode %s: %w", cmd.Method, err)
	}

	c.connLock.Lock()
	conn := c.conn
	if conn == nil || c.closed {
		c.connLock.Unlock()
		return constants.ErrNotOpen
	}

	if deadline, ok := c.writeDeadline(ctx); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err = conn.WriteMessage(gorilla.TextMessage, data)
	_ = conn.SetWriteDeadline(time.Time{})
	c.connLock.Unlock()

	if err != nil {
		// Fail calls back into the listener, which may Close this connection.
		c.Fail(err)
		return fmt.Errorf("gorillaws: write %s: %w", cmd.Method, err)
	}

	return nil
}

// writeDeadline returns the earliest of the ctx deadline and the configured write timeout.
func (c *Connection) writeDeadline(ctx context.Context) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if c.Config.WriteTimeout > 0 {
		timeout := time.Now().Add(c.Config.WriteTimeout)
		if !ok || timeout.Before(deadline) {
			return timeout, true
		}
	}
	return deadline, ok
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.Fail(err)
			return
		}

		switch messageType {
		case gorilla.TextMessage, gorilla.BinaryMessage:
			c.Deliver(data)
		}
	}
}
