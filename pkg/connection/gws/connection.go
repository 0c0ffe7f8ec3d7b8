package gws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/models"
)

// DefaultHandshakeTimeout bounds the opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Connection is a realtime Transport over lxzan/gws.
type Connection struct {
	*connection.Toolkit

	HandshakeTimeout time.Duration

	conn     *gws.Conn
	connLock sync.Mutex
	closed   bool
}

var _ connection.Transport = (*Connection)(nil)

var _ connection.NewFunc = New

func New(cfg *connection.Config, l connection.Listener) (connection.Transport, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("gws: missing socket url")
	}
	return &Connection{
		Toolkit:          connection.NewToolkit(cfg, l),
		HandshakeTimeout: DefaultHandshakeTimeout,
	}, nil
}

type websocketHandler struct {
	conn *Connection
}

func (h *websocketHandler) OnOpen(socket *gws.Conn) {
	// Connection opened successfully
}

func (h *websocketHandler) OnClose(socket *gws.Conn, err error) {
	h.conn.Fail(err)
}

func (h *websocketHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	// message.Bytes() is only valid until Close.
	data := append([]byte(nil), message.Bytes()...)
	h.conn.Deliver(data)
}

func (h *websocketHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *websocketHandler) OnPong(socket *gws.Conn, payload []byte) {
}

// Connect implements connection.Transport.
//
// gws has no context-aware dialer, so the handshake runs in the background
// and is abandoned if ctx is done first.
func (c *Connection) Connect(ctx context.Context) error {
	header := http.Header{}
	for k, v := range c.Config.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Sec-WebSocket-Protocol", constants.Subprotocol)

	option := &gws.ClientOption{
		Addr:             c.Config.URL,
		RequestHeader:    header,
		HandshakeTimeout: c.HandshakeTimeout,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	}

	type dialed struct {
		conn *gws.Conn
		err  error
	}
	done := make(chan dialed, 1)
	go func() {
		conn, res, err := gws.NewClient(&websocketHandler{conn: c}, option)
		if res != nil && res.Body != nil {
			_ = res.Body.Close()
		}
		done <- dialed{conn: conn, err: err}
	}()

	var d dialed
	select {
	case d = <-done:
	case <-ctx.Done():
		go func() {
			if d := <-done; d.conn != nil {
				_ = d.conn.NetConn().Close()
			}
		}()
		return ctx.Err()
	}
	if d.err != nil {
		return fmt.Errorf("gws: dial %s: %w", c.Config.URL, d.err)
	}

	c.connLock.Lock()
	if c.closed {
		c.connLock.Unlock()
		_ = d.conn.NetConn().Close()
		return constants.ErrClosed
	}
	c.conn = d.conn
	c.connLock.Unlock()

	// Start reading messages
	go d.conn.ReadLoop()

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

// Close implements connection.Transport.
func (c *Connection) Close(ctx context.Context) error {
	c.Silence()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn == nil {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.NetConn().SetWriteDeadline(deadline)
	}
	c.conn.WriteClose(constants.CloseMessageCode, nil)
	err := c.conn.NetConn().Close()
	c.conn = nil

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Connection) write(ctx context.Context, cmd connection.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := c.Encode(cmd)
	if err != nil {
		return fmt.Errorf("gws: encode %s: %w", cmd.Method, err)
	}

	c.connLock.Lock()
	conn := c.conn
	if conn == nil || c.closed {
		c.connLock.Unlock()
		return constants.ErrNotOpen
	}
	if c.Config.WriteTimeout > 0 {
		_ = conn.NetConn().SetWriteDeadline(time.Now().Add(c.Config.WriteTimeout))
	}
	err = conn.WriteMessage(gws.OpcodeText, data)
	c.connLock.Unlock()

	if err != nil {
		c.Fail(err)
		return fmt.Errorf("gws: write %s: %w", cmd.Method, err)
	}

	return nil
}
