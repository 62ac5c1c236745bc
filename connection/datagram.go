package connection

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/netcomms/limits"
	"github.com/opd-ai/netcomms/packet"
)

// maxDatagramRead is large enough for any UDP payload.
const maxDatagramRead = 64 * 1024

// datagramBinding owns one UDP socket shared by the listener and its default
// connection. Datagrams are routed by source endpoint to per-peer logical
// connections that write through the same socket.
type datagramBinding struct {
	l      *Listener
	conn   *net.UDPConn
	local  net.Addr
	closed atomic.Bool

	// writeMu allows one writer on the shared socket at a time.
	writeMu sync.Mutex

	routesMu sync.RWMutex
	routes   map[netip.AddrPort]*Connection

	def *Connection
}

func newDatagramBinding(l *Listener) *datagramBinding {
	return &datagramBinding{
		l:      l,
		routes: make(map[netip.AddrPort]*Connection),
	}
}

func (b *datagramBinding) bind(addr netip.AddrPort) (net.Addr, error) {
	conn, err := net.ListenUDP(network("udp", addr), udpAddr(addr))
	if err != nil {
		return nil, err
	}
	b.conn = conn
	b.local = conn.LocalAddr()

	cfg := b.l.cfg.Config
	info := newConnectionInfo(Datagram, b.local, anyEndpoint(Datagram, b.local), cfg.Protocol, b.l, cfg.TimeProvider.Now())
	b.def = newConnection(info, cfg, &defaultTransport{b: b}, true)
	b.def.establish()
	return b.local, nil
}

func (b *datagramBinding) serve() {
	buf := make([]byte, maxDatagramRead)
	for {
		n, from, err := b.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if b.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logError(b.l.cfg.Logger, "Reading datagram on %s: %v", b.local, err)
			continue
		}
		b.receive(netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), buf[:n])
	}
}

// receive decodes one datagram and routes it to the sender's connection,
// creating the connection on first contact.
func (b *datagramBinding) receive(from netip.AddrPort, data []byte) {
	cfg := b.l.cfg.Config
	p, err := decodeDatagram(b.def.framer, data, cfg.Options)
	if err != nil {
		logError(cfg.Logger, "Dropping datagram from %s: %v", from, err)
		return
	}

	c := b.route(from)
	if c == nil {
		return
	}
	c.deliver(p)
}

func (b *datagramBinding) route(from netip.AddrPort) *Connection {
	b.routesMu.RLock()
	c := b.routes[from]
	b.routesMu.RUnlock()
	if c != nil {
		return c
	}

	b.routesMu.Lock()
	if c = b.routes[from]; c != nil {
		b.routesMu.Unlock()
		return c
	}
	if b.closed.Load() {
		b.routesMu.Unlock()
		return nil
	}
	cfg := b.l.cfg.Config
	now := cfg.TimeProvider.Now()

	var evicted *Connection
	if len(b.routes) >= b.l.cfg.MaxDatagramPeers {
		key, idle := b.idlestRoute(now)
		if idle == nil {
			n := len(b.routes)
			b.routesMu.Unlock()
			logError(cfg.Logger, "Routing table on %s is full (%d peers), dropping datagram from %s", b.local, n, from)
			return nil
		}
		delete(b.routes, key)
		evicted = idle
	}

	info := newConnectionInfo(Datagram, b.local, udpAddr(from), cfg.Protocol, b.l, now)
	t := &peerTransport{b: b, remote: from}
	c = newConnection(info, cfg, t, false)
	c.parent = b.def
	t.c = c
	b.routes[from] = c
	b.routesMu.Unlock()

	if evicted != nil {
		evicted.CloseConnection(false, ReasonIdleEvicted)
	}
	logInfo(cfg.Logger, "New datagram peer %s on %s", from, b.local)
	c.start()
	return c
}

// idlestRoute returns the least recently active route if it has been silent
// for at least the listener's idle timeout. routesMu must be held.
func (b *datagramBinding) idlestRoute(now time.Time) (netip.AddrPort, *Connection) {
	var (
		key    netip.AddrPort
		oldest *Connection
		last   time.Time
	)
	for k, c := range b.routes {
		t := c.info.LastTrafficAt()
		if t.IsZero() {
			t = c.info.CreatedAt()
		}
		if oldest == nil || t.Before(last) {
			key, oldest, last = k, c, t
		}
	}
	if oldest == nil || now.Sub(last) < b.l.cfg.PeerIdleTimeout {
		return netip.AddrPort{}, nil
	}
	return key, oldest
}

func (b *datagramBinding) removeRoute(remote netip.AddrPort, c *Connection) {
	b.routesMu.Lock()
	defer b.routesMu.Unlock()
	if b.routes[remote] == c {
		delete(b.routes, remote)
	}
}

func (b *datagramBinding) writeTo(frame []byte, remote netip.AddrPort) error {
	if b.closed.Load() {
		return net.ErrClosed
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err := b.conn.WriteToUDPAddrPort(frame, remote)
	return err
}

// close closes the default connection, which releases the socket.
func (b *datagramBinding) close() error {
	b.def.CloseConnection(false, ReasonListenerShutdown)
	return nil
}

// shutdown releases the socket and invalidates every per-peer route.
// Per-peer connections are logical so no further OS teardown happens.
func (b *datagramBinding) shutdown() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.conn.Close()

	b.routesMu.Lock()
	peers := make([]*Connection, 0, len(b.routes))
	for _, c := range b.routes {
		peers = append(peers, c)
	}
	clear(b.routes)
	b.routesMu.Unlock()

	for _, c := range peers {
		c.CloseConnection(false, ReasonListenerShutdown)
	}
	return err
}

func (b *datagramBinding) boundLocalEndpoint() net.Addr { return b.local }

func (b *datagramBinding) connections() []*Connection {
	b.routesMu.RLock()
	defer b.routesMu.RUnlock()
	out := make([]*Connection, 0, len(b.routes))
	for _, c := range b.routes {
		out = append(out, c)
	}
	return out
}

func (b *datagramBinding) defaultConnection() *Connection { return b.def }

// decodeDatagram requires every datagram to hold exactly one frame.
func decodeDatagram(f packet.Framer, data []byte, opts *packet.Options) (*packet.Packet, error) {
	if err := limits.ValidateDatagram(data); err != nil {
		return nil, err
	}
	p, used, err := f.Decode(data, opts)
	if errors.Is(err, packet.ErrNeedMoreData) {
		return nil, fmt.Errorf("truncated frame: %w", err)
	}
	if err != nil {
		return nil, err
	}
	if used != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after frame", len(data)-used)
	}
	return p, nil
}

// defaultTransport is the listener default connection's view of the socket.
type defaultTransport struct {
	b *datagramBinding
}

func (t *defaultTransport) write([]byte) error { return ErrNoRemoteEndpoint }

func (t *defaultTransport) writeTo(frame []byte, remote netip.AddrPort) error {
	return t.b.writeTo(frame, remote)
}

// The binding's serve loop receives on behalf of the default connection.
func (t *defaultTransport) receive(*Connection) {}

func (t *defaultTransport) close() error {
	err := t.b.shutdown()
	t.b.l.released(t.b)
	return err
}

// peerTransport is a per-peer route on the shared socket.
type peerTransport struct {
	b      *datagramBinding
	remote netip.AddrPort
	c      *Connection
}

func (t *peerTransport) write(frame []byte) error {
	return t.b.writeTo(frame, t.remote)
}

func (t *peerTransport) writeTo([]byte, netip.AddrPort) error {
	return ErrNotDefaultConnection
}

// The binding's serve loop receives on behalf of every peer.
func (t *peerTransport) receive(*Connection) {}

func (t *peerTransport) close() error {
	t.b.removeRoute(t.remote, t.c)
	return nil
}

// dialedDatagramTransport is an outbound datagram connection's own socket,
// connected to a single remote.
type dialedDatagramTransport struct {
	conn *net.UDPConn
}

func dialDatagram(addr netip.AddrPort) (*net.UDPConn, error) {
	return net.DialUDP(network("udp", addr), nil, udpAddr(addr))
}

func (t *dialedDatagramTransport) write(frame []byte) error {
	_, err := t.conn.Write(frame)
	return err
}

func (t *dialedDatagramTransport) writeTo([]byte, netip.AddrPort) error {
	return ErrNotDefaultConnection
}

func (t *dialedDatagramTransport) receive(c *Connection) {
	buf := make([]byte, maxDatagramRead)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if c.State() >= StateShuttingDown || errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP errors surface on connected sockets and are not fatal.
			logInfo(c.cfg.Logger, "Reading datagram from %s: %v", addrString(c.info.RemoteEndpoint()), err)
			continue
		}
		p, err := decodeDatagram(c.framer, buf[:n], c.opts)
		if err != nil {
			logError(c.cfg.Logger, "Dropping datagram from %s: %v", addrString(c.info.RemoteEndpoint()), err)
			continue
		}
		if !c.deliver(p) {
			return
		}
	}
}

func (t *dialedDatagramTransport) close() error {
	return t.conn.Close()
}
