package connection

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/opd-ai/netcomms/limits"
)

const webSocketSubprotocol = "netcomms"

// wsAcceptor upgrades HTTP requests to binary WebSocket connections.
type wsAcceptor struct{}

func (wsAcceptor) listen(addr netip.AddrPort) (net.Listener, error) {
	tl, err := net.ListenTCP(network("tcp", addr), tcpAddr(addr))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &wsListener{
		tcp:    tl,
		conns:  make(chan net.Conn),
		ctx:    ctx,
		cancel: cancel,
	}
	l.srv = &http.Server{
		Handler:           http.HandlerFunc(l.upgrade),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go l.srv.Serve(tl)
	return l, nil
}

// Accepted WebSocket connections are hijacked from the HTTP server and
// survive it.
func (wsAcceptor) sharesSocket() bool { return false }

// wsListener presents upgraded WebSocket connections as a net.Listener.
type wsListener struct {
	tcp       net.Listener
	srv       *http.Server
	conns     chan net.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (l *wsListener) upgrade(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{webSocketSubprotocol},
	})
	if err != nil {
		return
	}
	c.SetReadLimit(limits.MaxFrameSize)

	var local net.Addr
	if a, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		local = a
	}
	var remote net.Addr
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		remote = tcpAddr(netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()))
	}

	// The request context ends with this handler, the connection does not.
	nc := wrapWebSocket(websocket.NetConn(context.Background(), c, websocket.MessageBinary), local, remote)

	select {
	case l.conns <- nc:
	case <-l.ctx.Done():
		nc.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.srv.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (l *wsListener) Addr() net.Addr {
	return l.tcp.Addr()
}

// wsConn pins the endpoint pair of a WebSocket connection to the underlying
// TCP endpoints.
type wsConn struct {
	net.Conn
	local  net.Addr
	remote net.Addr
}

func wrapWebSocket(nc net.Conn, local, remote net.Addr) net.Conn {
	if local == nil {
		local = nc.LocalAddr()
	}
	if remote == nil {
		remote = nc.RemoteAddr()
	}
	return &wsConn{Conn: nc, local: local, remote: remote}
}

func (c *wsConn) LocalAddr() net.Addr  { return c.local }
func (c *wsConn) RemoteAddr() net.Addr { return c.remote }

func dialWebSocket(ctx context.Context, addr netip.AddrPort, path string) (net.Conn, error) {
	if path == "" {
		path = "/"
	}

	// The WebSocket connection does not expose its TCP endpoints, so the
	// local one is captured when the HTTP transport dials.
	var local atomic.Pointer[net.TCPAddr]
	var d net.Dialer
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, address string) (net.Conn, error) {
			conn, err := d.DialContext(ctx, network("tcp", addr), address)
			if err != nil {
				return nil, err
			}
			if a, ok := conn.LocalAddr().(*net.TCPAddr); ok {
				local.Store(a)
			}
			return conn, nil
		},
	}
	defer tr.CloseIdleConnections()

	c, _, err := websocket.Dial(ctx, "ws://"+hostPort(addr)+path, &websocket.DialOptions{
		HTTPClient:   &http.Client{Transport: tr},
		Subprotocols: []string{webSocketSubprotocol},
	})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(limits.MaxFrameSize)
	nc := websocket.NetConn(context.Background(), c, websocket.MessageBinary)

	var localAddr net.Addr
	if a := local.Load(); a != nil {
		localAddr = a
	}
	return wrapWebSocket(nc, localAddr, tcpAddr(addr)), nil
}
