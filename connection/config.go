package connection

import (
	"fmt"
	"time"

	"github.com/opd-ai/netcomms/packet"
)

// DefaultHandshakeTimeout bounds how long a connection waits for the peer's
// ConnectionSetup packet.
const DefaultHandshakeTimeout = 10 * time.Second

// Config holds the construction options shared by listeners and outbound
// connections.
type Config struct {
	// Protocol selects managed framing plus handshake, or raw passthrough.
	Protocol ApplicationLayerProtocol

	// DatagramOptions must be DatagramNone unless Protocol is enabled and
	// the transport is Datagram.
	DatagramOptions DatagramOptions

	// Options are the default send/receive options. Nil selects
	// packet.DefaultOptions, or packet.RawOptions when Protocol is disabled.
	Options *packet.Options

	// Handshaker runs before a connection is established. Nil selects a
	// PeerInfoHandshake with a fresh identifier.
	Handshaker Handshaker

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Logger receives setup failures and connection teardown messages.
	Logger Logger

	// TimeProvider stamps connection timestamps.
	TimeProvider TimeProvider
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Config

	// AllowDiscoverable advertises the bound endpoint through Discoverer.
	AllowDiscoverable bool

	// Discoverer is required when AllowDiscoverable is set.
	Discoverer Discoverer

	// MaxDatagramPeers bounds a datagram listener's routing table. Defaults
	// to limits.MaxDatagramPeers.
	MaxDatagramPeers int

	// PeerIdleTimeout is how long a datagram peer must be silent before its
	// route may be evicted for a new peer. Defaults to
	// limits.DatagramPeerIdleTimeout.
	PeerIdleTimeout time.Duration
}

// DialConfig configures an outbound connection.
type DialConfig struct {
	Config

	// WebSocketPath is the request path used by WebSocket dials. Defaults to "/".
	WebSocketPath string

	// Handlers are registered on the connection before it starts receiving.
	Handlers map[string]PacketHandler
}

// normalize validates c for the given kind and fills in defaults.
func (c Config) normalize(kind TransportKind) (Config, error) {
	if !kind.Valid() {
		return c, fmt.Errorf("%w: unsupported transport kind %s", ErrInvalidArgument, kind)
	}

	switch c.Protocol {
	case ProtocolEnabled, ProtocolDisabled:
	default:
		return c, fmt.Errorf("%w: unknown application layer protocol status %d", ErrInvalidConfiguration, c.Protocol)
	}

	switch c.DatagramOptions {
	case DatagramNone, DatagramHandshake:
	default:
		return c, fmt.Errorf("%w: unknown datagram options %s", ErrInvalidConfiguration, c.DatagramOptions)
	}

	if c.Protocol == ProtocolDisabled && c.DatagramOptions != DatagramNone {
		return c, fmt.Errorf("%w: datagram options must be none when the application layer protocol is disabled", ErrInvalidConfiguration)
	}
	if kind.ConnectionOriented() && c.DatagramOptions != DatagramNone {
		return c, fmt.Errorf("%w: datagram options do not apply to %s transports", ErrInvalidConfiguration, kind)
	}

	if c.Options == nil {
		if c.Protocol == ProtocolDisabled {
			c.Options = packet.RawOptions()
		} else {
			c.Options = packet.DefaultOptions()
		}
	}
	if err := c.Options.Validate(); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if c.Protocol == ProtocolDisabled && !c.Options.IsRaw() {
		return c, fmt.Errorf("%w: send/receive options %s require the application layer protocol", ErrInvalidConfiguration, c.Options)
	}

	if c.Handshaker == nil {
		c.Handshaker = NewPeerInfoHandshake()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	c.Logger = loggerOrNop(c.Logger)
	c.TimeProvider = timeProviderOrReal(c.TimeProvider)
	return c, nil
}

// handshakeRequired reports whether connections of kind run the handshake.
func (c Config) handshakeRequired(kind TransportKind) bool {
	if c.Protocol != ProtocolEnabled {
		return false
	}
	if kind.ConnectionOriented() {
		return true
	}
	return c.DatagramOptions == DatagramHandshake
}

func (c Config) framer() packet.Framer {
	if c.Protocol == ProtocolDisabled {
		return packet.Unmanaged{}
	}
	return packet.Managed{}
}
