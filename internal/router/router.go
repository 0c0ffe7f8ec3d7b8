// Package router turns inbound realtime frames into handler invocations.
package router

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/buger/jsonparser"

	"github.com/cozy/realtime.go/pkg/logger"
	"github.com/cozy/realtime.go/pkg/models"
)

const errorEvent = "error"

// ProtocolError describes a frame that could not be turned into a Document.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed realtime frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed realtime frame: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ErrBackend is wrapped by the ProtocolError returned for "error" frames.
var ErrBackend = errors.New("realtime backend error")

// Lookup returns the handlers registered under any of keys.
type Lookup func(keys ...models.SubscriptionKey) []models.Handler

// Stats counts what went through a Router.
type Stats struct {
	Frames     uint64
	Dropped    uint64
	Dispatched uint64
	Panics     uint64
}

type Router struct {
	logger logger.Logger

	frames     atomic.Uint64
	dropped    atomic.Uint64
	dispatched atomic.Uint64
	panics     atomic.Uint64
}

func New(log logger.Logger) *Router {
	if log == nil {
		log = logger.Discard()
	}
	return &Router{logger: log}
}

// Route parses raw and calls every handler lookup returns for it.
// Malformed frames are logged and dropped. It returns how many handlers ran.
func (r *Router) Route(raw []byte, lookup Lookup) int {
	r.frames.Add(1)

	doc, err := Parse(raw)
	if err != nil {
		r.dropped.Add(1)
		if errors.Is(err, ErrBackend) {
			r.logger.Warn("realtime backend reported an error", "error", err)
		} else {
			r.logger.Debug("dropping realtime frame", "error", err, "frame", string(raw))
		}
		return 0
	}

	handlers := lookup(Candidates(doc)...)
	for _, h := range handlers {
		r.invoke(h, doc)
	}
	r.dispatched.Add(uint64(len(handlers)))

	return len(handlers)
}

func (r *Router) Stats() Stats {
	return Stats{
		Frames:     r.frames.Load(),
		Dropped:    r.dropped.Load(),
		Dispatched: r.dispatched.Load(),
		Panics:     r.panics.Load(),
	}
}

// invoke isolates a handler so a panic does not reach siblings or the read loop.
func (r *Router) invoke(h models.Handler, doc models.Document) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("realtime handler panicked",
				"event", doc.Event,
				"doctype", doc.Doctype,
				"id", doc.ID,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()))
		}
	}()
	h(doc)
}

// Candidates returns the keys a document is delivered to:
// the doctype-wide key, and the document key when the frame carried an id.
func Candidates(doc models.Document) []models.SubscriptionKey {
	keys := []models.SubscriptionKey{models.NewKey(doc.Event, doc.Doctype)}
	if doc.ID != "" {
		keys = append(keys, models.NewDocumentKey(doc.Event, doc.Doctype, doc.ID))
	}
	return keys
}

// Parse decodes a frame of the form
//
//	{"event": "UPDATED", "payload": {"type": "io.cozy.files", "id": "...", "doc": {...}}}
func Parse(raw []byte) (models.Document, error) {
	event, err := jsonparser.GetString(raw, "event")
	if err != nil {
		return models.Document{}, &ProtocolError{Reason: "missing event", Err: err}
	}

	payload, dataType, _, err := jsonparser.Get(raw, "payload")
	if err != nil && dataType != jsonparser.NotExist {
		return models.Document{}, &ProtocolError{Reason: "unreadable payload", Err: err}
	}

	if strings.EqualFold(event, errorEvent) {
		return models.Document{}, &ProtocolError{Reason: backendMessage(payload), Err: ErrBackend}
	}

	ev, err := models.ParseEventType(event)
	if err != nil {
		return models.Document{}, &ProtocolError{Reason: "unknown event", Err: err}
	}

	if dataType != jsonparser.Object {
		return models.Document{}, &ProtocolError{Reason: "payload is not an object"}
	}

	doctype, err := jsonparser.GetString(payload, "type")
	if err != nil || doctype == "" {
		return models.Document{}, &ProtocolError{Reason: "missing payload.type", Err: err}
	}

	var id string
	idValue, idType, _, err := jsonparser.Get(payload, "id")
	switch {
	case idType == jsonparser.NotExist, idType == jsonparser.Null:
	case err != nil || idType != jsonparser.String:
		return models.Document{}, &ProtocolError{Reason: "payload.id is not a string", Err: err}
	default:
		if id, err = jsonparser.ParseString(idValue); err != nil {
			return models.Document{}, &ProtocolError{Reason: "payload.id is not a string", Err: err}
		}
	}

	docValue, docType, _, err := jsonparser.Get(payload, "doc")
	if err != nil {
		return models.Document{}, &ProtocolError{Reason: "missing payload.doc", Err: err}
	}

	return models.Document{
		Event:   ev,
		Doctype: doctype,
		ID:      id,
		Raw:     rawValue(docValue, docType),
	}, nil
}

// rawValue restores the JSON text of a value returned by jsonparser.Get,
// which strips the quotes of strings.
func rawValue(value []byte, dataType jsonparser.ValueType) []byte {
	out := make([]byte, 0, len(value)+2)
	if dataType == jsonparser.String {
		out = append(out, '"')
		out = append(out, value...)
		return append(out, '"')
	}
	return append(out, value...)
}

func backendMessage(payload []byte) string {
	for _, field := range []string{"title", "detail", "code", "status"} {
		if msg, err := jsonparser.GetString(payload, field); err == nil && msg != "" {
			return msg
		}
	}
	return "unspecified backend error"
}
