package connection

import (
	"context"

	"github.com/cozy/realtime.go/pkg/models"
)

// Transport is a single physical connection to the realtime endpoint.
//
// Implementations deliver inbound frames and terminal errors to the
// Listener they were created with. After OnError has been called the
// transport is dead and a new one has to be created.
type Transport interface {
	// Connect dials the endpoint and returns once the socket is open.
	Connect(ctx context.Context) error
	// Close tears the socket down. It is safe to call more than once.
	Close(ctx context.Context) error
	IsOpen() bool

	Authenticate(ctx context.Context, token string) error
	Subscribe(ctx context.Context, target models.Target) error
	Unsubscribe(ctx context.Context, target models.Target) error
}

// Listener receives what a Transport reads from the socket.
type Listener interface {
	// OnMessage is called for every inbound text frame, from the read goroutine.
	OnMessage(data []byte)
	// OnError is called at most once, when the socket is lost.
	OnError(err error)
}

// NewFunc creates an unconnected Transport reporting to l.
type NewFunc func(cfg *Config, l Listener) (Transport, error)

// ListenerFuncs adapts two functions to a Listener.
type ListenerFuncs struct {
	Message func(data []byte)
	Error   func(err error)
}

func (f ListenerFuncs) OnMessage(data []byte) {
	if f.Message != nil {
		f.Message(data)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
