package rews

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/cozy/realtime.go/internal/registry"
	"github.com/cozy/realtime.go/internal/router"
	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/logger"
	"github.com/cozy/realtime.go/pkg/models"
)

// Config configures a Manager.
type Config struct {
	// NewFunc creates a new transport. It is called for the initial
	// connection and for every reconnection attempt.
	NewFunc connection.NewFunc

	// Transport is passed to NewFunc.
	Transport *connection.Config

	// Tokens returns the token used to authenticate a freshly opened
	// transport. It is called on every connection and reauthentication,
	// so a refreshed token is picked up.
	Tokens func() (string, bool)

	// Retryer decides when a lost transport is dialed again.
	// Defaults to DefaultRetryPolicy.
	Retryer Retryer

	Logger logger.Logger

	// OnFailure is called, outside of any lock, once retries are exhausted.
	OnFailure func(err error)
}

// Stats is a snapshot of a Manager.
type Stats struct {
	State State
	// Attempt is the number of consecutive failed attempts.
	Attempt int
	// Keys is the number of live subscription keys.
	Keys int
	// Handlers is the number of registrations across all keys.
	Handlers int
	Router   router.Stats
}

type Manager struct {
	cfg     Config
	retryer Retryer
	logger  logger.Logger
	router  *router.Router

	// mu guards everything below. No I/O and no handler call happens with mu held.
	mu        sync.Mutex
	state     State
	registry  *registry.Registry
	transport connection.Transport

	// gen is bumped whenever the current transport or dial is abandoned,
	// so that late callbacks and timers from it are ignored.
	gen     uint64
	attempt int
	// failure is the ConnectivityError reported while in StateFailed.
	failure error

	timer      *time.Timer
	cancelDial context.CancelFunc

	// waiters are released when the connection opens, fails or is closed.
	waiters []chan error
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.NewFunc == nil {
		return nil, constants.ErrNoNewFunc
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("rews: transport config is not set")
	}

	m := &Manager{
		cfg:      cfg,
		retryer:  cfg.Retryer,
		logger:   cfg.Logger,
		state:    StateClosed,
		registry: registry.New(),
	}
	if m.retryer == nil {
		m.retryer = DefaultRetryPolicy()
	}
	if m.logger == nil {
		m.logger = logger.Default()
	}
	m.router = router.New(m.logger)

	return m, nil
}

// Subscribe registers handler under key and returns once the connection is open.
//
// The first registration for a key makes the backend subscription, either
// directly when the connection is already open or through the replay that
// happens when it opens. Invalid keys are rejected before anything changes.
//
// When ctx is done or the connection fails first, the registration is kept;
// callers that do not want it anymore should Unsubscribe.
func (m *Manager) Subscribe(ctx context.Context, key models.SubscriptionKey, id uuid.UUID, handler models.Handler) error {
	if handler == nil {
		return constants.ErrNilHandler
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if _, ok := m.token(); !ok {
		return constants.ErrMissingToken
	}

	m.mu.Lock()
	first, err := m.registry.Register(key, id, handler)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if m.state != StateOpen {
		wait := m.ensureOpenLocked()
		m.mu.Unlock()
		m.logger.Debug("rews: subscription registered, waiting for connection", "key", key, "first", first)
		return await(ctx, wait)
	}

	tr, gen := m.transport, m.gen
	m.mu.Unlock()

	if !first {
		return nil
	}

	if err := tr.Subscribe(ctx, key.Target()); err != nil {
		m.logger.Warn("rews: subscribe failed, reconnecting", "key", key, "error", err)
		m.fail(gen, tr, err)

		m.mu.Lock()
		failure := m.failure
		m.mu.Unlock()
		if failure != nil {
			return failure
		}
		return m.EnsureOpen(ctx)
	}
	m.logger.Debug("rews: subscribed", "key", key)

	return nil
}

// Unsubscribe removes the registration id from key.
//
// When the registry becomes empty the connection is closed. Otherwise, when no
// live key needs the (doctype, id) target of key anymore, the backend
// subscription is dropped.
func (m *Manager) Unsubscribe(ctx context.Context, key models.SubscriptionKey, id uuid.UUID) error {
	m.mu.Lock()
	removed, empty := m.registry.Unregister(key, id)
	if !removed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", constants.ErrUnknownSubscription, key)
	}

	if empty {
		tr := m.closeLocked(constants.ErrClosed)
		m.mu.Unlock()
		m.logger.Debug("rews: last subscription removed, closing", "key", key)
		return closeTransport(ctx, tr)
	}

	target := key.Target()
	if m.state != StateOpen || m.registry.HasTarget(target) {
		m.mu.Unlock()
		return nil
	}
	tr := m.transport
	m.mu.Unlock()

	if err := tr.Unsubscribe(ctx, target); err != nil {
		// The registration is gone either way; unmatched frames are dropped.
		m.logger.Warn("rews: unsubscribe failed", "target", target, "error", err)
	}

	return nil
}

// UnsubscribeAll removes every registration, closes the connection and
// returns the keys that were live.
func (m *Manager) UnsubscribeAll(ctx context.Context) ([]models.SubscriptionKey, error) {
	m.mu.Lock()
	keys := m.registry.Clear()
	tr := m.closeLocked(constants.ErrClosed)
	m.mu.Unlock()

	return keys, closeTransport(ctx, tr)
}

// EnsureOpen returns once the connection is open, opening it if needed.
//
// The connection only exists while something is registered: with an empty
// registry EnsureOpen returns constants.ErrNotOpen.
func (m *Manager) EnsureOpen(ctx context.Context) error {
	m.mu.Lock()
	if m.registry.IsEmpty() {
		m.mu.Unlock()
		return constants.ErrNotOpen
	}
	wait := m.ensureOpenLocked()
	m.mu.Unlock()

	return await(ctx, wait)
}

// Close tears down the transport and cancels any pending retry.
// Registrations are kept; the next Subscribe or EnsureOpen reopens the
// connection and replays them. Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	tr := m.closeLocked(constants.ErrClosed)
	m.mu.Unlock()

	return closeTransport(ctx, tr)
}

// Reauthenticate sends the current token on the open transport without
// reconnecting. It does nothing unless the connection is open.
func (m *Manager) Reauthenticate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateOpen {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("rews: skipping reauthentication", "state", state)
		return nil
	}
	tr := m.transport
	m.mu.Unlock()

	token, ok := m.token()
	if !ok {
		return constants.ErrMissingToken
	}

	if err := tr.Authenticate(ctx, token); err != nil {
		return fmt.Errorf("rews: reauthenticate: %w", err)
	}
	m.logger.Debug("rews: reauthenticated")

	return nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// IsOpen reports whether a transport is open and usable.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state == StateOpen && m.transport != nil && m.transport.IsOpen()
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		State:    m.state,
		Attempt:  m.attempt,
		Keys:     m.registry.Len(),
		Handlers: m.registry.Count(),
		Router:   m.router.Stats(),
	}
}

func (m *Manager) token() (string, bool) {
	if m.cfg.Tokens == nil {
		return "", false
	}
	return m.cfg.Tokens()
}

func (m *Manager) transitionLocked(newState State) {
	if err := m.state.validateTransitionTo(newState); err != nil {
		panic(fmt.Sprintf("BUG: rews: %v", err))
	}
	m.state = newState
	m.logger.Debug("rews.Manager state transitioned", "new_state", newState)
}

// ensureOpenLocked returns a channel receiving the outcome of the current or
// next connection attempt, starting one if nothing is in progress.
func (m *Manager) ensureOpenLocked() <-chan error {
	wait := make(chan error, 1)

	switch m.state {
	case StateOpen:
		wait <- nil
		return wait
	case StateFailed:
		m.attempt = 0
		m.failure = nil
		m.startLocked()
	case StateClosed:
		m.startLocked()
	}

	m.waiters = append(m.waiters, wait)
	return wait
}

func (m *Manager) startLocked() {
	m.transitionLocked(StateConnecting)
	m.gen++

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	go m.dial(ctx, m.gen)
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	token, ok := m.token()
	if !ok {
		m.fail(gen, nil, constants.ErrMissingToken)
		return
	}

	l := connection.ListenerFuncs{
		Message: func(data []byte) { m.handleMessage(gen, data) },
		Error:   func(err error) { m.fail(gen, nil, err) },
	}

	tr, err := m.cfg.NewFunc(m.cfg.Transport, l)
	if err != nil {
		m.fail(gen, nil, err)
		return
	}

	if err := tr.Connect(ctx); err != nil {
		m.fail(gen, tr, fmt.Errorf("connect: %w", err))
		return
	}

	if err := tr.Authenticate(ctx, token); err != nil {
		m.fail(gen, tr, fmt.Errorf("authenticate: %w", err))
		return
	}

	m.opened(gen, tr)
}

// opened makes tr the current transport and replays every live key on it.
func (m *Manager) opened(gen uint64, tr connection.Transport) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		_ = closeTransport(context.Background(), tr)
		return
	}

	m.transitionLocked(StateOpen)
	m.transport = tr
	m.attempt = 0
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	// Keys registered from now on see StateOpen and subscribe by themselves.
	keys := m.registry.Keys()
	m.mu.Unlock()

	m.logger.Info("rews: realtime connection open", "url", m.cfg.Transport.URL, "keys", len(keys))

	ctx := context.Background()
	for _, key := range keys {
		if err := tr.Subscribe(ctx, key.Target()); err != nil {
			m.fail(gen, tr, fmt.Errorf("replay %s: %w", key, err))
			return
		}
	}

	m.mu.Lock()
	if gen == m.gen && m.state == StateOpen {
		m.releaseLocked(nil)
	}
	m.mu.Unlock()
}

// fail handles the loss of the transport or dial of generation gen.
// dead, when set, is the transport that failed.
func (m *Manager) fail(gen uint64, dead connection.Transport, cause error) {
	m.mu.Lock()
	if gen != m.gen || (m.state != StateConnecting && m.state != StateOpen) {
		m.mu.Unlock()
		if dead != nil {
			go discard(dead)
		}
		return
	}

	current := m.transport
	m.transport = nil
	m.gen++
	m.attempt++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	attempt := m.attempt
	var failure error
	if delay, ok := m.retryer.NextDelay(attempt, cause); ok {
		m.transitionLocked(StateRetrying)
		retryGen := m.gen
		m.timer = time.AfterFunc(delay, func() { m.retry(retryGen) })
		m.logger.Warn("rews: realtime connection lost, retrying",
			"attempt", attempt, "delay", delay, "error", cause)
	} else {
		m.transitionLocked(StateFailed)
		failure = &connection.ConnectivityError{Attempts: attempt, Err: cause}
		m.failure = failure
		m.releaseLocked(failure)
	}
	m.mu.Unlock()

	go discard(current, dead)

	if failure != nil {
		m.logger.Error("rews: giving up on realtime connection", "error", failure)
		if m.cfg.OnFailure != nil {
			m.cfg.OnFailure(failure)
		}
	}
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateRetrying {
		return
	}
	m.timer = nil
	m.startLocked()
}

// closeLocked moves to StateClosed and returns the transport to close, if any.
func (m *Manager) closeLocked(reason error) connection.Transport {
	if m.state == StateClosed {
		return nil
	}

	m.gen++
	m.failure = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	tr := m.transport
	m.transport = nil
	m.attempt = 0
	m.transitionLocked(StateClosed)
	m.releaseLocked(reason)

	return tr
}

func (m *Manager) releaseLocked(err error) {
	for _, w := range m.waiters {
		w <- err
	}
	m.waiters = nil
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	m.router.Route(data, func(keys ...models.SubscriptionKey) []models.Handler {
		m.mu.Lock()
		defer m.mu.Unlock()

		// Frames still buffered in an abandoned transport are ignored.
		if gen != m.gen {
			return nil
		}
		return m.registry.Handlers(keys...)
	})
}

func await(ctx context.Context, wait <-chan error) error {
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// discard closes failed transports. fail can run inside a transport's own
// callback, so this must happen on another goroutine.
func discard(trs ...connection.Transport) {
	for i, tr := range trs {
		if tr == nil || (i > 0 && tr == trs[0]) {
			continue
		}
		_ = tr.Close(context.Background())
	}
}

func closeTransport(ctx context.Context, tr connection.Transport) error {
	if tr == nil {
		return nil
	}
	return tr.Close(ctx)
}
