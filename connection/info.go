package connection

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// ConnectionInfo identifies a connection: its endpoints, transport kind and
// application-layer protocol status. The identity fields never change after
// construction. Only the established/shutdown flags, the timestamps and the
// peer identity learned during the handshake are mutable.
type ConnectionInfo struct {
	kind     TransportKind
	local    net.Addr
	remote   net.Addr
	protocol ApplicationLayerProtocol

	listener    weak.Pointer[Listener]
	hasListener bool

	createdAt     time.Time
	established   atomic.Bool
	shutdown      atomic.Bool
	establishedAt atomic.Int64
	lastTraffic   atomic.Int64

	peerMu        sync.RWMutex
	peerID        string
	peerEndpoints []string
}

func newConnectionInfo(kind TransportKind, local, remote net.Addr, protocol ApplicationLayerProtocol, owner *Listener, now time.Time) *ConnectionInfo {
	info := &ConnectionInfo{
		kind:      kind,
		local:     local,
		remote:    remote,
		protocol:  protocol,
		createdAt: now,
	}
	if owner != nil {
		info.listener = weak.Make(owner)
		info.hasListener = true
	}
	return info
}

// Kind returns the transport kind.
func (i *ConnectionInfo) Kind() TransportKind { return i.kind }

// LocalEndpoint returns the local endpoint of the connection.
func (i *ConnectionInfo) LocalEndpoint() net.Addr { return i.local }

// RemoteEndpoint returns the remote endpoint. A datagram listener's default
// connection reports the any-address placeholder.
func (i *ConnectionInfo) RemoteEndpoint() net.Addr { return i.remote }

// Protocol returns the application-layer protocol status.
func (i *ConnectionInfo) Protocol() ApplicationLayerProtocol { return i.protocol }

// Listener returns the listener that produced the connection. It is nil for
// outbound connections and once the listener has been garbage collected.
func (i *ConnectionInfo) Listener() *Listener {
	if !i.hasListener {
		return nil
	}
	return i.listener.Value()
}

// Inbound reports whether the connection was produced by a listener.
func (i *ConnectionInfo) Inbound() bool { return i.hasListener }

// IsEstablished reports whether the connection completed establishment.
func (i *ConnectionInfo) IsEstablished() bool { return i.established.Load() }

// IsShutdown reports whether the connection has started shutting down.
func (i *ConnectionInfo) IsShutdown() bool { return i.shutdown.Load() }

// CreatedAt returns when the connection object was created.
func (i *ConnectionInfo) CreatedAt() time.Time { return i.createdAt }

// EstablishedAt returns when the connection was established, or the zero time.
func (i *ConnectionInfo) EstablishedAt() time.Time { return unixNano(i.establishedAt.Load()) }

// LastTrafficAt returns when a packet was last sent or received, or the zero time.
func (i *ConnectionInfo) LastTrafficAt() time.Time { return unixNano(i.lastTraffic.Load()) }

// PeerIdentifier returns the identifier the peer announced in the handshake.
func (i *ConnectionInfo) PeerIdentifier() string {
	i.peerMu.RLock()
	defer i.peerMu.RUnlock()
	return i.peerID
}

// PeerListenEndpoints returns the listen endpoints the peer announced in the handshake.
func (i *ConnectionInfo) PeerListenEndpoints() []string {
	i.peerMu.RLock()
	defer i.peerMu.RUnlock()
	out := make([]string, len(i.peerEndpoints))
	copy(out, i.peerEndpoints)
	return out
}

// SetPeer records the peer identity learned by a handshake. It succeeds once.
func (i *ConnectionInfo) SetPeer(identifier string, listenEndpoints []string) bool {
	i.peerMu.Lock()
	defer i.peerMu.Unlock()
	if i.peerID != "" || identifier == "" {
		return false
	}
	i.peerID = identifier
	i.peerEndpoints = append([]string(nil), listenEndpoints...)
	return true
}

func (i *ConnectionInfo) markEstablished(now time.Time) bool {
	if !i.established.CompareAndSwap(false, true) {
		return false
	}
	i.establishedAt.Store(now.UnixNano())
	return true
}

func (i *ConnectionInfo) markShutdown() bool {
	return i.shutdown.CompareAndSwap(false, true)
}

func (i *ConnectionInfo) touch(now time.Time) {
	i.lastTraffic.Store(now.UnixNano())
}

func (i *ConnectionInfo) String() string {
	return fmt.Sprintf("[%s] %s -> %s", i.kind, addrString(i.local), addrString(i.remote))
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func addrString(a net.Addr) string {
	if a == nil {
		return "<none>"
	}
	return a.String()
}
