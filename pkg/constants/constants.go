package constants

import (
	"errors"
	"time"
)

const (
	// RealtimePath is appended to the instance base path to get the socket endpoint.
	RealtimePath = "realtime/"
	// Subprotocol is the websocket subprotocol spoken by the realtime endpoint.
	Subprotocol = "io.cozy.websocket"
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000

	// DefaultRetryDelay is the fixed delay between two reconnection attempts.
	DefaultRetryDelay = 10 * time.Second
	// DefaultRetryLimit is the number of reconnection attempts before giving up.
	DefaultRetryLimit = 60
	// DefaultWriteTimeout bounds every outbound command write.
	DefaultWriteTimeout = 10 * time.Second
)

var (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

// Errors
var (
	ErrMissingToken        = errors.New("no session or oauth token available")
	ErrClosed              = errors.New("realtime connection closed")
	ErrNotOpen             = errors.New("realtime connection is not open")
	ErrUnsupportedScheme   = errors.New("unsupported url scheme")
	ErrNoNewFunc           = errors.New("transport factory is not set")
	ErrNoSession           = errors.New("session is not set")
	ErrNilHandler          = errors.New("handler is nil")
	ErrUnknownEvent        = errors.New("unknown event type")
	ErrUnknownSubscription = errors.New("unknown subscription")
)
