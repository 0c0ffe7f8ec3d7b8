package connection

import (
	"sync/atomic"

	"github.com/cozy/realtime.go/pkg/logger"
)

// Toolkit is the state shared by the websocket transports: their config,
// their listener, and the once-only error reporting.
type Toolkit struct {
	Config   *Config
	Listener Listener

	failed   atomic.Bool
	silenced atomic.Bool
}

func NewToolkit(cfg *Config, l Listener) *Toolkit {
	return &Toolkit{Config: cfg, Listener: l}
}

// Encode marshals a command with the configured codec.
func (tk *Toolkit) Encode(cmd Command) ([]byte, error) {
	return tk.Config.Marshaler.Marshal(cmd)
}

// Deliver hands an inbound frame to the listener.
func (tk *Toolkit) Deliver(data []byte) {
	tk.Listener.OnMessage(data)
}

// Fail reports err to the listener. Only the first call has an effect.
//
// The listener runs without any toolkit state held: it may Close the
// transport that is failing.
func (tk *Toolkit) Fail(err error) {
	if tk.silenced.Load() || !tk.failed.CompareAndSwap(false, true) {
		return
	}
	tk.Logger().Debug("realtime transport lost", "url", tk.Config.URL, "error", err)
	tk.Listener.OnError(err)
}

// Silence prevents any later Fail call from reaching the listener.
// Transports call it on deliberate Close, possibly from inside the listener.
func (tk *Toolkit) Silence() {
	tk.silenced.Store(true)
}

func (tk *Toolkit) Logger() logger.Logger {
	if tk.Config.Logger == nil {
		return logger.Discard()
	}
	return tk.Config.Logger
}
