package connection

import (
	"errors"
	"net"
	"net/netip"

	kcp "github.com/xtaci/kcp-go/v5"
)

// kcpAcceptor serves reliable, ordered KCP sessions over one UDP socket.
type kcpAcceptor struct{}

func (kcpAcceptor) listen(addr netip.AddrPort) (net.Listener, error) {
	conn, err := net.ListenUDP(network("udp", addr), udpAddr(addr))
	if err != nil {
		return nil, err
	}

	// ServeConn does not take ownership of conn, so kcpListener closes it.
	ln, err := kcp.ServeConn(nil, 0, 0, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &kcpListener{Listener: ln, conn: conn}, nil
}

func (kcpAcceptor) sharesSocket() bool { return true }

type kcpListener struct {
	*kcp.Listener
	conn *net.UDPConn
}

func (l *kcpListener) Accept() (net.Conn, error) {
	sess, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	configureSession(sess)
	return sess, nil
}

func (l *kcpListener) Close() error {
	l.Listener.Close()
	if err := l.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func configureSession(sess *kcp.UDPSession) {
	// nodelay, 10ms interval, fast resend after 2 ACK skips, no congestion control
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetStreamMode(true)
	sess.SetWindowSize(1024, 1024)
}

func dialKCP(addr netip.AddrPort) (net.Conn, error) {
	sess, err := kcp.DialWithOptions(hostPort(addr), nil, 0, 0)
	if err != nil {
		return nil, err
	}
	configureSession(sess)
	return sess, nil
}
