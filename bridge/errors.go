package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by outbound operations before the handshake completed.
	ErrNotReady = errors.New("backend not ready")
	// ErrQuitting is returned by outbound operations once Quit or ForceQuit started.
	ErrQuitting = errors.New("bridge is quitting")
	// ErrLaunchTimeout is returned by Run when the backend did not complete the
	// handshake in time.
	ErrLaunchTimeout = errors.New("backend did not become ready in time")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("bridge already running")
	// ErrSessionFailed is returned by outbound operations after the session died.
	ErrSessionFailed = errors.New("session failed")
	// ErrBackendExited is reported when the backend exits cleanly without
	// being asked to.
	ErrBackendExited = errors.New("backend exited")
)

// TransportError wraps a transport failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
