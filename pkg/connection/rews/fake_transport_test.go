package rews

import (
	"context"
	"errors"
	"sync"

	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/models"
)

var errNetwork = errors.New("network unreachable")

// fakeNetwork hands out fakeTransports and records what they were asked to do.
type fakeNetwork struct {
	mu sync.Mutex

	transports []*fakeTransport
	// connectErrs is consumed by successive Connect calls; nil entries succeed.
	connectErrs []error
	// failConnect makes every Connect fail once connectErrs is consumed.
	failConnect bool
	// gate, when set, blocks Connect until closed.
	gate chan struct{}
	// failWrites is the number of upcoming Subscribe calls that report the
	// loss of the socket, the way a real transport does when a write fails.
	failWrites int
}

// New builds transports on connection.Toolkit, like the websocket ones:
// losses reach the listener through Fail, and Close silences it.
func (n *fakeNetwork) New(cfg *connection.Config, l connection.Listener) (connection.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tr := &fakeTransport{Toolkit: connection.NewToolkit(cfg, l), net: n}
	n.transports = append(n.transports, tr)
	return tr, nil
}

func (n *fakeNetwork) transport(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.transports[i]
}

func (n *fakeNetwork) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.transports)
}

func (n *fakeNetwork) last() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.transports[len(n.transports)-1]
}

// subscribes returns every Subscribe call made on any transport.
func (n *fakeNetwork) subscribes() []models.Target {
	n.mu.Lock()
	transports := append([]*fakeTransport(nil), n.transports...)
	n.mu.Unlock()

	var out []models.Target
	for _, tr := range transports {
		out = append(out, tr.subscribed()...)
	}
	return out
}

func (n *fakeNetwork) takeWriteFailure() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failWrites == 0 {
		return false
	}
	n.failWrites--
	return true
}

func (n *fakeNetwork) nextConnectErr() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.connectErrs) > 0 {
		err := n.connectErrs[0]
		n.connectErrs = n.connectErrs[1:]
		return err
	}
	if n.failConnect {
		return errNetwork
	}
	return nil
}

type fakeTransport struct {
	*connection.Toolkit
	net *fakeNetwork

	mu           sync.Mutex
	open         bool
	closed       bool
	auths        []string
	subscribes   []models.Target
	unsubscribes []models.Target
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.net.mu.Lock()
	gate := t.net.gate
	t.net.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := t.net.nextConnectErr(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = true
	return nil
}

func (t *fakeTransport) Close(context.Context) error {
	t.Silence()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = false
	t.closed = true
	return nil
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.open
}

func (t *fakeTransport) Authenticate(_ context.Context, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return errNetwork
	}
	t.auths = append(t.auths, token)
	return nil
}

func (t *fakeTransport) Subscribe(_ context.Context, target models.Target) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return errNetwork
	}
	if t.net.takeWriteFailure() {
		t.open = false
		t.mu.Unlock()
		t.Fail(errNetwork)
		return errNetwork
	}
	t.subscribes = append(t.subscribes, target)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Unsubscribe(_ context.Context, target models.Target) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return errNetwork
	}
	t.unsubscribes = append(t.unsubscribes, target)
	return nil
}

// drop simulates the loss of the socket.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()

	t.Fail(err)
}

// push simulates an inbound frame.
func (t *fakeTransport) push(frame string) {
	t.Deliver([]byte(frame))
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

func (t *fakeTransport) authenticated() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.auths...)
}

func (t *fakeTransport) subscribed() []models.Target {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]models.Target(nil), t.subscribes...)
}

func (t *fakeTransport) unsubscribed() []models.Target {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]models.Target(nil), t.unsubscribes...)
}
