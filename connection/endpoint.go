package connection

import (
	"fmt"
	"net"
	"net/netip"
)

// endpointToAddrPort converts a TCP or UDP endpoint to its address/port pair.
// Any other endpoint type is rejected. An unset IP means the any-address.
func endpointToAddrPort(addr net.Addr) (netip.AddrPort, error) {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.TCPAddr:
		if a == nil {
			return ap, fmt.Errorf("%w: nil endpoint", ErrInvalidArgument)
		}
		ap = a.AddrPort()
	case *net.UDPAddr:
		if a == nil {
			return ap, fmt.Errorf("%w: nil endpoint", ErrInvalidArgument)
		}
		ap = a.AddrPort()
	default:
		return ap, fmt.Errorf("%w: unsupported endpoint type %T", ErrInvalidArgument, addr)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// anyEndpoint returns the any-address placeholder in the family of local.
func anyEndpoint(kind TransportKind, local net.Addr) net.Addr {
	ip := net.IPv4zero
	if ap, err := endpointToAddrPort(local); err == nil && ap.Addr().Is6() {
		ip = net.IPv6unspecified
	}
	if kind == Datagram {
		return &net.UDPAddr{IP: ip}
	}
	return &net.TCPAddr{IP: ip}
}

func udpAddr(ap netip.AddrPort) *net.UDPAddr {
	if !ap.Addr().IsValid() {
		return &net.UDPAddr{Port: int(ap.Port())}
	}
	return net.UDPAddrFromAddrPort(ap)
}

func tcpAddr(ap netip.AddrPort) *net.TCPAddr {
	if !ap.Addr().IsValid() {
		return &net.TCPAddr{Port: int(ap.Port())}
	}
	return net.TCPAddrFromAddrPort(ap)
}

// hostPort renders ap for dialers and logs. An unset address renders as 0.0.0.0.
func hostPort(ap netip.AddrPort) string {
	if !ap.Addr().IsValid() {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), ap.Port()).String()
	}
	return ap.String()
}

// network pins the address family of ap so an IPv4 wildcard does not bind
// a dual-stack socket.
func network(base string, ap netip.AddrPort) string {
	switch {
	case !ap.Addr().IsValid():
		return base
	case ap.Addr().Is4():
		return base + "4"
	default:
		return base + "6"
	}
}
