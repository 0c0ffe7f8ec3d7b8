package models

import "fmt"

// ValidationError is returned for subscription requests that are rejected
// before touching the registry or the network. It is never retried.
type ValidationError struct {
	Key    SubscriptionKey
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid subscription %s: %s", e.Key, e.Reason)
}
