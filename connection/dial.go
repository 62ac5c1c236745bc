package connection

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to remote and returns the connection once it is
// established. Stream-shaped kinds with the application-layer protocol
// enabled, and datagram connections with DatagramHandshake, complete the
// handshake first. Connect and handshake failures are ErrSetupShutdown.
func Dial(ctx context.Context, kind TransportKind, remote net.Addr, cfg *DialConfig) (*Connection, error) {
	if cfg == nil {
		cfg = &DialConfig{}
	}
	base, err := cfg.Config.normalize(kind)
	if err != nil {
		return nil, newCommsError("dial", addrString(remote), err)
	}
	ap, err := endpointToAddrPort(remote)
	if err != nil {
		return nil, newCommsError("dial", addrString(remote), err)
	}
	target := hostPort(ap)

	var t transport
	var local, peer net.Addr
	switch kind {
	case Datagram:
		uc, derr := dialDatagram(ap)
		err = derr
		if err == nil {
			t, local, peer = &dialedDatagramTransport{conn: uc}, uc.LocalAddr(), uc.RemoteAddr()
		}
	default:
		var nc net.Conn
		switch kind {
		case ReliableDatagram:
			nc, err = dialKCP(ap)
		case WebSocket:
			nc, err = dialWebSocket(ctx, ap, cfg.WebSocketPath)
		default:
			nc, err = dialTCP(ctx, ap)
		}
		if err == nil {
			t, local, peer = newStreamTransport(nc), nc.LocalAddr(), nc.RemoteAddr()
		}
	}
	if err != nil {
		logError(base.Logger, "It was not possible to connect to %s over %s: %v", target, kind, err)
		return nil, newCommsError("dial", target, fmt.Errorf("%w: %w", ErrSetupShutdown, err))
	}

	info := newConnectionInfo(kind, local, peer, base.Protocol, nil, base.TimeProvider.Now())
	c := newConnection(info, base, t, false)
	for packetType, h := range cfg.Handlers {
		c.HandlePacket(packetType, h)
	}
	c.start()

	select {
	case <-c.Established():
		return c, nil
	case <-c.Done():
		if c.Info().IsEstablished() {
			return c, nil
		}
		reason, _ := c.Reason()
		return nil, newCommsError("dial", target, fmt.Errorf("%w: connection closed before it was established (%s)", ErrSetupShutdown, reason))
	case <-ctx.Done():
		c.CloseConnection(true, ReasonLocalError)
		return nil, newCommsError("dial", target, fmt.Errorf("%w: %w", ErrSetupShutdown, ctx.Err()))
	}
}
