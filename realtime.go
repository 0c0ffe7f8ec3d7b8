package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/cozy/realtime.go/pkg/connection/rews"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/logger"
	"github.com/cozy/realtime.go/pkg/models"
	"github.com/cozy/realtime.go/pkg/session"
)

// Subscription identifies one registration made by Subscribe or SubscribeDocument.
// Registering the same handler twice yields two distinct subscriptions.
type Subscription struct {
	ID  uuid.UUID
	Key models.SubscriptionKey
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s#%s", s.Key, s.ID)
}

// Realtime multiplexes document subscriptions over one connection.
//
// It is safe for concurrent use.
type Realtime struct {
	manager *rews.Manager
	session session.Provider
	logger  logger.Logger

	mu        sync.Mutex
	listeners map[uuid.UUID]func(error)
	stopWatch func()
	closed    bool
}

// New creates a client. Nothing is dialed until the first subscription.
func New(cfg *Config) (*Realtime, error) {
	if cfg == nil {
		return nil, errors.New("realtime: config is nil")
	}
	if cfg.Session == nil {
		return nil, constants.ErrNoSession
	}
	if cfg.Transport == nil {
		return nil, errors.New("realtime: transport config is nil")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = log
	}

	r := &Realtime{
		session:   cfg.Session,
		logger:    log,
		listeners: make(map[uuid.UUID]func(error)),
	}

	manager, err := rews.NewManager(rews.Config{
		NewFunc:   cfg.NewTransport,
		Transport: cfg.Transport,
		Tokens:    r.token,
		Retryer:   cfg.Retryer,
		Logger:    log,
		OnFailure: r.emitError,
	})
	if err != nil {
		return nil, err
	}
	r.manager = manager
	r.stopWatch = cfg.Session.Watch(r.onSessionEvent)

	return r, nil
}

// Subscribe calls handler for every event on doctype.
// It returns once the connection is open.
//
// A failed Subscribe leaves nothing registered.
func (r *Realtime) Subscribe(ctx context.Context, event models.EventType, doctype string, handler models.Handler) (*Subscription, error) {
	return r.subscribe(ctx, models.NewKey(event, doctype), handler)
}

// SubscribeDocument calls handler for every event on the document id of doctype.
// Created events cannot be scoped to a document and give a ValidationError.
func (r *Realtime) SubscribeDocument(ctx context.Context, event models.EventType, doctype, id string, handler models.Handler) (*Subscription, error) {
	return r.subscribe(ctx, models.NewDocumentKey(event, doctype, id), handler)
}

func (r *Realtime) subscribe(ctx context.Context, key models.SubscriptionKey, handler models.Handler) (*Subscription, error) {
	if r.isClosed() {
		return nil, constants.ErrClosed
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("realtime: subscription id: %w", err)
	}

	if err := r.manager.Subscribe(ctx, key, id, handler); err != nil {
		if rollbackErr := r.manager.Unsubscribe(context.Background(), key, id); rollbackErr != nil &&
			!errors.Is(rollbackErr, constants.ErrUnknownSubscription) {
			r.logger.Debug("realtime: rollback of failed subscription", "key", key, "error", rollbackErr)
		}
		return nil, err
	}

	return &Subscription{ID: id, Key: key}, nil
}

// Unsubscribe removes sub. The connection is closed when it was the last one.
func (r *Realtime) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return constants.ErrUnknownSubscription
	}
	return r.manager.Unsubscribe(ctx, sub.Key, sub.ID)
}

// UnsubscribeAll removes every subscription and closes the connection.
// Functions registered with OnError are kept.
func (r *Realtime) UnsubscribeAll(ctx context.Context) error {
	keys, err := r.manager.UnsubscribeAll(ctx)
	r.logger.Debug("realtime: unsubscribed all", "keys", len(keys))
	return err
}

// OnError registers fn to be called when the connection is given up.
// It returns a function removing fn.
func (r *Realtime) OnError(fn func(error)) (remove func()) {
	id := uuid.Must(uuid.NewV4())

	r.mu.Lock()
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Reauthenticate sends the session's current token on the open connection.
// It is called automatically on login and tokenRefreshed session events.
func (r *Realtime) Reauthenticate(ctx context.Context) error {
	return r.manager.Reauthenticate(ctx)
}

// IsOpen reports whether the connection is open.
func (r *Realtime) IsOpen() bool {
	return r.manager.IsOpen()
}

func (r *Realtime) State() rews.State {
	return r.manager.State()
}

func (r *Realtime) Stats() rews.Stats {
	return r.manager.Stats()
}

// Close removes every subscription, closes the connection and stops
// watching the session. The client cannot be used afterwards.
func (r *Realtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stop := r.stopWatch
	r.mu.Unlock()

	if stop != nil {
		stop()
	}

	return r.UnsubscribeAll(ctx)
}

func (r *Realtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

func (r *Realtime) token() (string, bool) {
	return session.AuthToken(r.session.Token())
}

func (r *Realtime) onSessionEvent(ev session.Event) {
	switch ev {
	case session.EventLogin, session.EventTokenRefreshed:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultWriteTimeout)
	defer cancel()

	if err := r.manager.Reauthenticate(ctx); err != nil {
		r.logger.Warn("realtime: reauthentication failed", "event", string(ev), "error", err)
	}
}

func (r *Realtime) emitError(err error) {
	r.mu.Lock()
	listeners := make([]func(error), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		r.callListener(fn, err)
	}
}

func (r *Realtime) callListener(fn func(error), err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("realtime: error listener panicked", "panic", fmt.Sprint(p))
		}
	}()
	fn(err)
}
