package beacon

import "fmt"

// BindError reports that the discovery socket could not be bound.
// It is fatal for the listener and is never retried.
type BindError struct {
	Port int
	Err  error
}

// Error implements error.
func (e *BindError) Error() string {
	return fmt.Sprintf("beacon: binding udp port %d: %v", e.Port, e.Err)
}

// Unwrap returns the underlying socket error.
func (e *BindError) Unwrap() error { return e.Err }
