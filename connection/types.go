package connection

import "fmt"

// TransportKind identifies the transport a connection or listener runs over.
type TransportKind uint8

const (
	// Stream is connection-oriented TCP.
	Stream TransportKind = iota + 1
	// Datagram is connectionless UDP with per-peer demultiplexing.
	Datagram
	// ReliableDatagram is a KCP session over UDP. It behaves as a stream.
	ReliableDatagram
	// WebSocket is a binary WebSocket over HTTP. It behaves as a stream.
	WebSocket
)

// ConnectionOriented reports whether the kind uses the accept-per-peer binding.
func (k TransportKind) ConnectionOriented() bool {
	return k != Datagram
}

// Valid reports whether k is a known transport kind.
func (k TransportKind) Valid() bool {
	return k >= Stream && k <= WebSocket
}

func (k TransportKind) String() string {
	switch k {
	case Stream:
		return "stream"
	case Datagram:
		return "datagram"
	case ReliableDatagram:
		return "kcp"
	case WebSocket:
		return "websocket"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseTransportKind resolves a configured kind name.
func ParseTransportKind(s string) (TransportKind, error) {
	switch s {
	case "stream", "tcp":
		return Stream, nil
	case "datagram", "udp":
		return Datagram, nil
	case "kcp", "reliable":
		return ReliableDatagram, nil
	case "websocket", "ws":
		return WebSocket, nil
	default:
		return 0, fmt.Errorf("%w: unknown transport kind %q", ErrInvalidArgument, s)
	}
}

// ApplicationLayerProtocol selects whether the managed framing and handshake
// run on top of the raw transport.
type ApplicationLayerProtocol uint8

const (
	// ProtocolEnabled frames packets with typed headers and runs the handshake.
	ProtocolEnabled ApplicationLayerProtocol = iota
	// ProtocolDisabled passes raw bytes through.
	ProtocolDisabled
)

func (p ApplicationLayerProtocol) String() string {
	if p == ProtocolDisabled {
		return "disabled"
	}
	return "enabled"
}

// DatagramOptions are the datagram-specific transport options.
type DatagramOptions uint8

const (
	// DatagramNone adds nothing on top of framing.
	DatagramNone DatagramOptions = iota
	// DatagramHandshake runs the peer-info handshake with every new datagram peer.
	DatagramHandshake
)

func (o DatagramOptions) String() string {
	switch o {
	case DatagramNone:
		return "none"
	case DatagramHandshake:
		return "handshake"
	default:
		return fmt.Sprintf("datagram-options(%d)", uint8(o))
	}
}

// State is a connection lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateEstablished
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEstablished:
		return "established"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CloseReason classifies why a connection was torn down. It is diagnostic only.
type CloseReason uint8

const (
	// ReasonRequested is a local, graceful close.
	ReasonRequested CloseReason = iota
	// ReasonListenerShutdown is a close caused by StopListening.
	ReasonListenerShutdown
	// ReasonPeerGracefulClose is an orderly close by the peer.
	ReasonPeerGracefulClose
	// ReasonPeerError is a reset, corrupt input or other peer-side failure.
	ReasonPeerError
	// ReasonLocalError is a local I/O failure, such as a failed write.
	ReasonLocalError
	// ReasonHandshakeFailed is a handshake that failed or timed out.
	ReasonHandshakeFailed
	// ReasonIdleEvicted is a datagram route dropped to make room for a new peer.
	ReasonIdleEvicted
)

// Code returns the diagnostic integer attached to shutdown logs.
func (r CloseReason) Code() int {
	switch r {
	case ReasonRequested:
		return 0
	case ReasonListenerShutdown:
		return -16
	case ReasonPeerGracefulClose:
		return -2
	case ReasonPeerError:
		return -3
	case ReasonLocalError:
		return -4
	case ReasonHandshakeFailed:
		return -5
	case ReasonIdleEvicted:
		return -6
	default:
		return -1
	}
}

// Graceful reports whether the reason is an orderly close by either side.
func (r CloseReason) Graceful() bool {
	return r == ReasonRequested || r == ReasonPeerGracefulClose
}

func (r CloseReason) String() string {
	switch r {
	case ReasonRequested:
		return "requested"
	case ReasonListenerShutdown:
		return "listener-shutdown"
	case ReasonPeerGracefulClose:
		return "peer-closed"
	case ReasonPeerError:
		return "peer-error"
	case ReasonLocalError:
		return "local-error"
	case ReasonHandshakeFailed:
		return "handshake-failed"
	case ReasonIdleEvicted:
		return "idle-evicted"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}
