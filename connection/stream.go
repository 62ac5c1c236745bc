package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/netcomms/limits"
	"github.com/opd-ai/netcomms/packet"
)

const acceptRetryDelay = 10 * time.Millisecond

// acceptor opens the passive socket of a stream-shaped transport.
type acceptor interface {
	listen(addr netip.AddrPort) (net.Listener, error)
	// sharesSocket reports whether accepted connections ride on the
	// passive socket and so cannot outlive it.
	sharesSocket() bool
}

// streamBinding owns one passive socket and produces one Connection per
// accepted socket.
type streamBinding struct {
	l        *Listener
	acceptor acceptor
	ln       net.Listener
	local    net.Addr
	closed   atomic.Bool

	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

func newStreamBinding(l *Listener, a acceptor) *streamBinding {
	return &streamBinding{
		l:        l,
		acceptor: a,
		conns:    make(map[*Connection]struct{}),
	}
}

func (b *streamBinding) bind(addr netip.AddrPort) (net.Addr, error) {
	ln, err := b.acceptor.listen(addr)
	if err != nil {
		return nil, err
	}
	b.ln = ln
	b.local = ln.Addr()
	return b.local, nil
}

func (b *streamBinding) serve() {
	cfg := b.l.cfg.Config
	for {
		nc, err := b.ln.Accept()
		if err != nil {
			if b.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logError(cfg.Logger, "Accepting %s connection on %s: %v", b.l.kind, b.local, err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		info := newConnectionInfo(b.l.kind, nc.LocalAddr(), nc.RemoteAddr(), cfg.Protocol, b.l, cfg.TimeProvider.Now())
		c := newConnection(info, cfg, newStreamTransport(nc), false)
		b.track(c)
		logInfo(cfg.Logger, "Accepted %s connection from %s", b.l.kind, nc.RemoteAddr())
		c.start()
	}
}

func (b *streamBinding) track(c *Connection) {
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	c.OnClose(func(c *Connection, _ CloseReason) {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
	})
}

func (b *streamBinding) close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.acceptor.sharesSocket() {
		for _, c := range b.connections() {
			c.CloseConnection(false, ReasonListenerShutdown)
		}
	}
	return b.ln.Close()
}

func (b *streamBinding) boundLocalEndpoint() net.Addr { return b.local }

func (b *streamBinding) connections() []*Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Connection, 0, len(b.conns))
	for c := range b.conns {
		out = append(out, c)
	}
	return out
}

func (b *streamBinding) defaultConnection() *Connection { return nil }

// streamTransport is a connection's exclusively owned stream socket.
type streamTransport struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func newStreamTransport(conn net.Conn) *streamTransport {
	return &streamTransport{conn: conn}
}

func (t *streamTransport) write(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write(frame)
	return err
}

func (t *streamTransport) writeTo([]byte, netip.AddrPort) error {
	return ErrNotDefaultConnection
}

func (t *streamTransport) close() error {
	return t.conn.Close()
}

// receive reads chunks, reassembles frames across reads and delivers every
// complete packet in order.
func (t *streamTransport) receive(c *Connection) {
	buf := make([]byte, limits.StreamReadBufferSize)
	var pending []byte

	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for len(pending) > 0 {
				p, used, derr := c.framer.Decode(pending, c.opts)
				if errors.Is(derr, packet.ErrNeedMoreData) {
					break
				}
				if derr != nil {
					logError(c.cfg.Logger, "Corrupt frame from %s: %v", addrString(c.info.RemoteEndpoint()), derr)
					c.CloseConnection(true, ReasonPeerError)
					return
				}
				pending = append(pending[:0], pending[used:]...)
				if !c.deliver(p) {
					return
				}
			}
		}

		if err != nil {
			if c.State() >= StateShuttingDown {
				return
			}
			if errors.Is(err, io.EOF) {
				c.CloseConnection(false, ReasonPeerGracefulClose)
				return
			}
			logError(c.cfg.Logger, "Reading from %s: %v", addrString(c.info.RemoteEndpoint()), err)
			c.CloseConnection(true, ReasonPeerError)
			return
		}
	}
}

// tcpAcceptor listens on plain TCP.
type tcpAcceptor struct{}

func (tcpAcceptor) listen(addr netip.AddrPort) (net.Listener, error) {
	return net.ListenTCP(network("tcp", addr), tcpAddr(addr))
}

func (tcpAcceptor) sharesSocket() bool { return false }

func dialTCP(ctx context.Context, addr netip.AddrPort) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network("tcp", addr), hostPort(addr))
}
