package connection

import (
	"errors"
	"fmt"
)

// Error kinds raised by listeners and connections. Match them with errors.Is.
var (
	// ErrInvalidArgument indicates an endpoint of an unsupported address family
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidOperation indicates a call that is not valid in the current state
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidConfiguration indicates construction options that contradict each other
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSetupShutdown indicates a bind or connect failed permanently
	ErrSetupShutdown = errors.New("connection setup failed")

	// ErrSendReceive indicates a transport I/O failure on an established connection
	ErrSendReceive = errors.New("send/receive failed")

	// ErrConnectionClosed indicates the connection has been closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotDefaultConnection indicates SendTo on anything but a datagram listener's default connection
	ErrNotDefaultConnection = errors.New("not a datagram listener default connection")

	// ErrNoRemoteEndpoint indicates Send on a connection without a peer
	ErrNoRemoteEndpoint = errors.New("connection has no remote endpoint")

	// ErrHandshakeFailed indicates the peer-info handshake did not complete
	ErrHandshakeFailed = errors.New("handshake failed")
)

// CommsError represents an error with additional context
type CommsError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *CommsError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("netcomms %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("netcomms %s: %v", e.Op, e.Err)
}

func (e *CommsError) Unwrap() error {
	return e.Err
}

// newCommsError creates a new CommsError
func newCommsError(op, addr string, err error) *CommsError {
	return &CommsError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// wrapKind attaches an error kind to an underlying cause so both match errors.Is.
func wrapKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
