package connection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Handshaker gates establishment of a connection. Handshake runs on the
// connection's lifecycle worker after the transport is connected and before
// any packet is dispatched. Returning an error closes the connection with
// ReasonHandshakeFailed.
type Handshaker interface {
	Handshake(ctx context.Context, c *Connection) error
}

// SetupInfo is the ConnectionSetup payload exchanged by PeerInfoHandshake.
type SetupInfo struct {
	Identifier      string   `cbor:"1,keyasint"`
	Kind            string   `cbor:"2,keyasint"`
	ListenEndpoints []string `cbor:"3,keyasint,omitempty"`
}

// PeerInfoHandshake exchanges peer identifiers and listen endpoints.
// Both sides send their SetupInfo and then wait for the other's.
type PeerInfoHandshake struct {
	// Identifier is announced to every peer.
	Identifier string

	// ListenEndpoints, if set, reports the endpoints announced to peers.
	// Otherwise the owning listener's endpoint is announced.
	ListenEndpoints func() []string
}

// NewPeerInfoHandshake creates a handshake with a random identifier.
func NewPeerInfoHandshake() *PeerInfoHandshake {
	return &PeerInfoHandshake{Identifier: uuid.NewString()}
}

// Handshake implements Handshaker.
func (h *PeerInfoHandshake) Handshake(ctx context.Context, c *Connection) error {
	remote := addrString(c.Info().RemoteEndpoint())

	local := SetupInfo{
		Identifier:      h.Identifier,
		Kind:            c.Info().Kind().String(),
		ListenEndpoints: h.endpoints(c),
	}
	if err := c.SendSetup(local); err != nil {
		return newCommsError("handshake", remote, wrapKind(ErrHandshakeFailed, err))
	}

	p, err := c.ReceiveSetup(ctx)
	if err != nil {
		return newCommsError("handshake", remote, wrapKind(ErrHandshakeFailed, err))
	}

	var peer SetupInfo
	if err := p.Unmarshal(&peer); err != nil {
		return newCommsError("handshake", remote, wrapKind(ErrHandshakeFailed, err))
	}
	if peer.Identifier == "" {
		return newCommsError("handshake", remote, fmt.Errorf("%w: peer sent an empty identifier", ErrHandshakeFailed))
	}
	if peer.Kind != local.Kind {
		return newCommsError("handshake", remote, fmt.Errorf("%w: peer uses %s, expected %s", ErrHandshakeFailed, peer.Kind, local.Kind))
	}

	c.Info().SetPeer(peer.Identifier, peer.ListenEndpoints)
	return nil
}

func (h *PeerInfoHandshake) endpoints(c *Connection) []string {
	if h.ListenEndpoints != nil {
		return h.ListenEndpoints()
	}
	if l := c.Info().Listener(); l != nil {
		if ep := l.LocalListenEndpoint(); ep != nil {
			return []string{ep.String()}
		}
	}
	return nil
}
