// Package fakecozy provides a fake realtime endpoint for testing purposes.
// It speaks the realtime websocket protocol (AUTH, SUBSCRIBE, UNSUBSCRIBE
// commands in, change events out) and includes a few failure injection
// capabilities.
//
// The WebSocket server is implemented using the `gws` library.
package fakecozy

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lxzan/gws"

	"github.com/cozy/realtime.go/internal/codec"
	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/logger"
	"github.com/cozy/realtime.go/pkg/models"
)

// cryptoRandFloat64 generates a cryptographically secure random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64()) / float64(1<<53)
}

// FailureType represents the type of failure to inject when a command is received
type FailureType string

const (
	// FailureRequestDelay delays before processing the command
	FailureRequestDelay FailureType = "request_delay"
	// FailureInvalidFrame sends a frame that is not a realtime event
	FailureInvalidFrame FailureType = "invalid_frame"
	// FailureWebSocketClose sends WebSocket close frame with configurable code/reason
	FailureWebSocketClose FailureType = "websocket_close"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
)

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	// Method restricts the failure to one command. Empty matches every command.
	Method connection.Method
	Type   FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	// Delay is used by FailureRequestDelay
	Delay time.Duration
	// CloseCode is the WebSocket close code for FailureWebSocketClose
	CloseCode uint16
	// CloseReason is the WebSocket close reason for FailureWebSocketClose
	CloseReason string
}

// Command is a command received by the server.
type Command struct {
	// Conn numbers connections in accept order, starting at 1.
	Conn   int
	Method connection.Method
	// Token is set for AUTH.
	Token string
	// Target is set for SUBSCRIBE and UNSUBSCRIBE.
	Target connection.TargetPayload
}

type session struct {
	id      int
	token   string
	targets map[connection.TargetPayload]bool
}

// Server is a fake realtime WebSocket server.
type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server
	logger   logger.Logger
	codec    codec.Codec

	mu        sync.Mutex
	sessions  map[*gws.Conn]*session
	commands  []Command
	failures  []FailureConfig
	accepted  int
	validAuth func(token string) bool
}

// Handler implements the gws.Event interface for WebSocket connections
type Handler struct {
	server *Server
}

// NewServer creates a new fake realtime server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:     addr,
		logger:   logger.Discard(),
		codec:    codec.JSON{},
		sessions: make(map[*gws.Conn]*session),
	}

	s.server = gws.NewServer(&Handler{server: s}, &gws.ServerOption{
		SubProtocols: []string{constants.Subprotocol},
	})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("fakecozy: server error", "error", err)
		}
	}

	return s
}

// SetLogger sets the logger used for server side errors.
func (s *Server) SetLogger(l logger.Logger) {
	s.logger = l
}

// SetTokenValidator restricts the tokens accepted by AUTH.
// By default any non-empty token is accepted.
func (s *Server) SetTokenValidator(valid func(token string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validAuth = valid
}

// SetFailures sets failure configurations checked for every command.
func (s *Server) SetFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = failures
}

// Start starts the server and begins accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("fakecozy: listener stopped", "error", err)
		}
	}()

	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.DropConnections()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the http base URI of the instance, as a client would configure it.
func (s *Server) URL() string {
	return "http://" + s.Address()
}

// Commands returns every command received so far, in order.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Command(nil), s.commands...)
}

// CommandsFor returns the commands received with method.
func (s *Server) CommandsFor(method connection.Method) []Command {
	var out []Command
	for _, c := range s.Commands() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Accepted returns the number of connections accepted since Start.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.accepted
}

// DropConnections closes every open connection without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*gws.Conn, 0, len(s.sessions))
	for c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.NetConn().Close()
	}
}

// Publish sends a change event to every authenticated connection subscribed
// to the doctype, or to the document when id is set. It returns the number of
// connections written to.
func (s *Server) Publish(event models.EventType, doctype, id string, doc any) (int, error) {
	frame, err := s.codec.Marshal(eventFrame{
		Event: event.Wire(),
		Payload: eventPayload{
			Type: doctype,
			ID:   id,
			Doc:  doc,
		},
	})
	if err != nil {
		return 0, err
	}

	wide := connection.TargetPayload{Type: doctype}
	scoped := connection.TargetPayload{Type: doctype, ID: id}

	s.mu.Lock()
	var conns []*gws.Conn
	for c, sess := range s.sessions {
		if sess.token == "" {
			continue
		}
		if sess.targets[wide] || (id != "" && sess.targets[scoped]) {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(gws.OpcodeText, frame); err != nil {
			return 0, err
		}
	}
	return len(conns), nil
}

// Broadcast writes a raw frame to every open connection.
func (s *Server) Broadcast(frame []byte) {
	s.mu.Lock()
	conns := make([]*gws.Conn, 0, len(s.sessions))
	for c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteMessage(gws.OpcodeText, frame)
	}
}

type eventFrame struct {
	Event   string       `json:"event"`
	Payload eventPayload `json:"payload"`
}

type eventPayload struct {
	Type   string `json:"type,omitempty"`
	ID     string `json:"id,omitempty"`
	Doc    any    `json:"doc,omitempty"`
	Status string `json:"status,omitempty"`
	Title  string `json:"title,omitempty"`
}

type inbound struct {
	Method  connection.Method `json:"method"`
	Payload json.RawMessage   `json:"payload"`
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()

	h.server.accepted++
	h.server.sessions[socket] = &session{
		id:      h.server.accepted,
		targets: make(map[connection.TargetPayload]bool),
	}
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var in inbound
	if err := h.server.codec.Unmarshal(message.Bytes(), &in); err != nil {
		h.sendError(socket, "400", "malformed command")
		return
	}
	in.Method = connection.Method(strings.ToUpper(string(in.Method)))

	if !h.applyFailures(socket, in.Method) {
		return
	}

	h.server.mu.Lock()
	sess, ok := h.server.sessions[socket]
	h.server.mu.Unlock()
	if !ok {
		return
	}

	switch in.Method {
	case connection.MethodAuth:
		h.handleAuth(socket, sess, in.Payload)
	case connection.MethodSubscribe, connection.MethodUnsubscribe:
		h.handleTarget(socket, sess, in.Method, in.Payload)
	default:
		h.sendError(socket, "405", "unknown method")
	}
}

func (h *Handler) handleAuth(socket *gws.Conn, sess *session, payload json.RawMessage) {
	var token string
	if err := h.server.codec.Unmarshal(payload, &token); err != nil || token == "" {
		h.sendError(socket, "401", "missing token")
		return
	}

	h.server.mu.Lock()
	h.server.commands = append(h.server.commands, Command{Conn: sess.id, Method: connection.MethodAuth, Token: token})
	valid := h.server.validAuth
	h.server.mu.Unlock()

	if valid != nil && !valid(token) {
		h.sendError(socket, "401", "invalid token")
		socket.WriteClose(4001, []byte("unauthorized"))
		return
	}

	h.server.mu.Lock()
	sess.token = token
	h.server.mu.Unlock()
}

func (h *Handler) handleTarget(socket *gws.Conn, sess *session, method connection.Method, payload json.RawMessage) {
	var target connection.TargetPayload
	if err := h.server.codec.Unmarshal(payload, &target); err != nil || target.Type == "" {
		h.sendError(socket, "400", "missing type")
		return
	}

	h.server.mu.Lock()
	h.server.commands = append(h.server.commands, Command{Conn: sess.id, Method: method, Target: target})
	authenticated := sess.token != ""
	if authenticated {
		if method == connection.MethodSubscribe {
			sess.targets[target] = true
		} else {
			delete(sess.targets, target)
		}
	}
	h.server.mu.Unlock()

	if !authenticated {
		h.sendError(socket, "403", "not authenticated")
	}
}

// applyFailures returns false when the command must not be processed further.
func (h *Handler) applyFailures(socket *gws.Conn, method connection.Method) bool {
	h.server.mu.Lock()
	failures := h.server.failures
	h.server.mu.Unlock()

	for _, failure := range failures {
		if failure.Method != "" && failure.Method != method {
			continue
		}
		if failure.Probability < 1 && cryptoRandFloat64() >= failure.Probability {
			continue
		}

		switch failure.Type {
		case FailureRequestDelay:
			time.Sleep(failure.Delay)

		case FailureInvalidFrame:
			_ = socket.WriteMessage(gws.OpcodeText, []byte(`{"event":`))

		case FailureWebSocketClose:
			code := failure.CloseCode
			if code == 0 {
				code = 1001
			}
			reason := failure.CloseReason
			if reason == "" {
				reason = "failure injection"
			}
			socket.WriteClose(code, []byte(reason))
			return false

		case FailureDropConnection:
			_ = socket.NetConn().Close()
			return false
		}
	}

	return true
}

func (h *Handler) sendError(socket *gws.Conn, status, title string) {
	data, err := h.server.codec.Marshal(eventFrame{
		Event:   "error",
		Payload: eventPayload{Status: status, Title: title},
	})
	if err != nil {
		return
	}
	_ = socket.WriteMessage(gws.OpcodeText, data)
}
