package models

import (
	"github.com/goccy/go-json"
)

// Document is a change notification delivered to handlers.
type Document struct {
	Event   EventType
	Doctype string
	// ID is empty when the backend did not send one.
	ID string
	// Raw is the JSON document as sent by the backend.
	Raw json.RawMessage
}

// Handler receives documents matching a subscription.
// It is called from the connection's read goroutine and must not block for long.
type Handler func(doc Document)

// Decode unmarshals the raw document into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Raw, v)
}

// Rev returns the _rev of the document, if any.
func (d Document) Rev() string {
	var meta struct {
		Rev string `json:"_rev"`
	}
	if err := d.Decode(&meta); err != nil {
		return ""
	}
	return meta.Rev
}
