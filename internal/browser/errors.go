package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveSession is returned by every operation that needs a live session while the manager is idle.
	ErrNoActiveSession = errors.New("no active browser session")
	// ErrInvalidDirection is returned for scroll directions other than up and down.
	ErrInvalidDirection = errors.New("scroll direction must be 'up' or 'down'")
)

// TransportError means a backend could not be reached or did not answer in time.
// These are never retried.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: cannot reach backend: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError is a failure reported by the backend itself. Message is the backend's own text.
type BackendError struct {
	Backend    string
	Op         string
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (HTTP %d): %s", e.Backend, e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Backend, e.Op, e.Message)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// BackendMessage extracts the backend's message from err, if it carries one.
func BackendMessage(err error) (string, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Message, true
	}
	return "", false
}
