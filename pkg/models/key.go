package models

import (
	"fmt"
	"strings"
)

// SubscriptionKey identifies a class of change notifications:
// an event type on a doctype, optionally narrowed to one document.
//
// The zero ID of a doctype-wide key never equals the ID of a
// document-scoped key, even an empty one. Keys are comparable and
// can be used as map keys.
type SubscriptionKey struct {
	Event   EventType
	Doctype string
	ID      string

	scoped bool
}

// NewKey returns the doctype-wide key for event on doctype.
func NewKey(event EventType, doctype string) SubscriptionKey {
	return SubscriptionKey{Event: event, Doctype: doctype}
}

// NewDocumentKey returns the key for event on a single document.
func NewDocumentKey(event EventType, doctype, id string) SubscriptionKey {
	return SubscriptionKey{Event: event, Doctype: doctype, ID: id, scoped: true}
}

// MakeKey builds a key from its parts. hasID=false yields the same key
// as NewKey regardless of id.
func MakeKey(event EventType, doctype, id string, hasID bool) SubscriptionKey {
	if !hasID {
		return NewKey(event, doctype)
	}
	return NewDocumentKey(event, doctype, id)
}

// HasID reports whether the key is scoped to one document.
func (k SubscriptionKey) HasID() bool {
	return k.scoped
}

// Target is the (doctype, id) pair the backend subscription is issued for.
// Keys differing only by event share a target.
func (k SubscriptionKey) Target() Target {
	return Target{Doctype: k.Doctype, ID: k.ID, scoped: k.scoped}
}

// Validate rejects keys that can never match a backend event.
func (k SubscriptionKey) Validate() error {
	if !k.Event.Valid() {
		return &ValidationError{Key: k, Reason: fmt.Sprintf("unknown event type %q", string(k.Event))}
	}
	if k.Doctype == "" {
		return &ValidationError{Key: k, Reason: "doctype is mandatory"}
	}
	if k.Event == EventCreated && k.scoped {
		return &ValidationError{Key: k, Reason: "created events cannot be scoped to a document id"}
	}
	return nil
}

// ParseKey is the inverse of String: "event/doctype" or "event/doctype/id".
// The result is not validated.
func ParseKey(s string) (SubscriptionKey, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) < 2 {
		return SubscriptionKey{}, fmt.Errorf("malformed subscription key %q", s)
	}
	event, err := ParseEventType(parts[0])
	if err != nil {
		return SubscriptionKey{}, err
	}
	if len(parts) == 3 {
		return NewDocumentKey(event, parts[1], parts[2]), nil
	}
	return NewKey(event, parts[1]), nil
}

func (k SubscriptionKey) String() string {
	if !k.scoped {
		return fmt.Sprintf("%s/%s", k.Event, k.Doctype)
	}
	return fmt.Sprintf("%s/%s/%s", k.Event, k.Doctype, k.ID)
}

// Target is a transport-level subscription: a doctype, optionally one document.
type Target struct {
	Doctype string
	ID      string

	scoped bool
}

func (t Target) HasID() bool {
	return t.scoped
}

func (t Target) String() string {
	if !t.scoped {
		return t.Doctype
	}
	return fmt.Sprintf("%s/%s", t.Doctype, t.ID)
}
