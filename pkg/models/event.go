package models

import (
	"fmt"
	"strings"

	"github.com/cozy/realtime.go/pkg/constants"
)

// EventType is the kind of change a subscription listens to.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// ParseEventType accepts any casing ("CREATED" on the wire, "created" in code)
// and returns the canonical lower-case event.
func ParseEventType(s string) (EventType, error) {
	switch e := EventType(strings.ToLower(strings.TrimSpace(s))); e {
	case EventCreated, EventUpdated, EventDeleted:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %q", constants.ErrUnknownEvent, s)
	}
}

func (e EventType) Valid() bool {
	switch e {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// Wire returns the upper-case form used in realtime frames.
func (e EventType) Wire() string {
	return strings.ToUpper(string(e))
}

func (e EventType) String() string {
	return string(e)
}
