// Package registry keeps track of which handlers are registered under which
// subscription key.
//
// A Registry is not safe for concurrent use; its owner serializes access.
package registry

import (
	"github.com/gofrs/uuid"

	"github.com/cozy/realtime.go/pkg/models"
)

type entry struct {
	id      uuid.UUID
	handler models.Handler
}

type Registry struct {
	handlers map[models.SubscriptionKey][]entry
	// order keeps keys in first-registration order so replays are deterministic.
	order []models.SubscriptionKey
	count int
}

func New() *Registry {
	return &Registry{
		handlers: make(map[models.SubscriptionKey][]entry),
	}
}

// Register appends handler under key, identified by id.
// first tells whether key had no handler before, meaning a transport-level
// subscribe must be issued for it. Invalid keys are rejected before any change.
func (r *Registry) Register(key models.SubscriptionKey, id uuid.UUID, handler models.Handler) (first bool, err error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	entries, exists := r.handlers[key]
	if !exists {
		r.order = append(r.order, key)
	}
	r.handlers[key] = append(entries, entry{id: id, handler: handler})
	r.count++

	return !exists, nil
}

// Unregister removes the registration id from key.
// removed is false if there was no such registration.
// emptyNow tells whether the whole registry is now empty.
func (r *Registry) Unregister(key models.SubscriptionKey, id uuid.UUID) (removed, emptyNow bool) {
	entries, exists := r.handlers[key]
	if !exists {
		return false, r.IsEmpty()
	}

	for i, e := range entries {
		if e.id != id {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		removed = true
		r.count--
		break
	}

	if len(entries) == 0 {
		delete(r.handlers, key)
		r.removeFromOrder(key)
	} else {
		r.handlers[key] = entries
	}

	return removed, r.IsEmpty()
}

// Has reports whether key has at least one handler.
func (r *Registry) Has(key models.SubscriptionKey) bool {
	_, ok := r.handlers[key]
	return ok
}

// HasTarget reports whether any live key shares target.
func (r *Registry) HasTarget(target models.Target) bool {
	for _, k := range r.order {
		if k.Target() == target {
			return true
		}
	}
	return false
}

// Clear drops every registration and returns the keys that were live.
func (r *Registry) Clear() []models.SubscriptionKey {
	keys := r.order
	r.handlers = make(map[models.SubscriptionKey][]entry)
	r.order = nil
	r.count = 0
	return keys
}

// Keys returns the live keys in first-registration order.
func (r *Registry) Keys() []models.SubscriptionKey {
	keys := make([]models.SubscriptionKey, len(r.order))
	copy(keys, r.order)
	return keys
}

// Handlers returns a snapshot of the handlers registered under keys,
// key by key, in registration order.
func (r *Registry) Handlers(keys ...models.SubscriptionKey) []models.Handler {
	var out []models.Handler
	for _, k := range keys {
		for _, e := range r.handlers[k] {
			out = append(out, e.handler)
		}
	}
	return out
}

func (r *Registry) IsEmpty() bool {
	return len(r.handlers) == 0
}

// Len returns the number of live keys.
func (r *Registry) Len() int {
	return len(r.handlers)
}

// Count returns the number of registrations across all keys.
func (r *Registry) Count() int {
	return r.count
}

func (r *Registry) removeFromOrder(key models.SubscriptionKey) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}
