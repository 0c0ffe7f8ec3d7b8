package realtime

import (
	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/models"
)

// ValidationError is returned by Subscribe for keys that can never match an event.
// Nothing is registered and no connection is opened.
type ValidationError = models.ValidationError

// ConnectivityError is emitted to error listeners, and returned by pending
// subscriptions, once the connection failed more times than allowed.
type ConnectivityError = connection.ConnectivityError
