package connection

import "fmt"

// ConnectivityError is returned once the transport failed more times than
// the retry policy allows.
type ConnectivityError struct {
	// Attempts is the number of consecutive failed attempts.
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("realtime connection failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
