package connection

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionInfoFlags(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1000}
	remote := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2000}
	info := newConnectionInfo(Stream, local, remote, ProtocolEnabled, nil, now)

	assert.Equal(t, Stream, info.Kind())
	assert.Equal(t, local, info.LocalEndpoint())
	assert.Equal(t, remote, info.RemoteEndpoint())
	assert.Equal(t, ProtocolEnabled, info.Protocol())
	assert.Equal(t, now, info.CreatedAt())
	assert.True(t, info.EstablishedAt().IsZero())
	assert.True(t, info.LastTrafficAt().IsZero())
	assert.False(t, info.Inbound())
	assert.Nil(t, info.Listener())

	later := now.Add(time.Second)
	assert.True(t, info.markEstablished(later))
	assert.False(t, info.markEstablished(later.Add(time.Hour)), "established is set exactly once")
	assert.True(t, info.IsEstablished())
	assert.True(t, info.EstablishedAt().Equal(later))

	assert.True(t, info.markShutdown())
	assert.False(t, info.markShutdown(), "shutdown is set exactly once")
	assert.True(t, info.IsShutdown())

	info.touch(later)
	assert.True(t, info.LastTrafficAt().Equal(later))

	assert.Equal(t, "[stream] 127.0.0.1:1000 -> 127.0.0.1:2000", info.String())
}

func TestConnectionInfoPeer(t *testing.T) {
	info := newConnectionInfo(Datagram, nil, nil, ProtocolEnabled, nil, time.Now())

	assert.False(t, info.SetPeer("", nil))
	assert.True(t, info.SetPeer("peer-a", []string{"10.0.0.1:4000"}))
	assert.False(t, info.SetPeer("peer-b", nil))

	assert.Equal(t, "peer-a", info.PeerIdentifier())
	assert.Equal(t, []string{"10.0.0.1:4000"}, info.PeerListenEndpoints())
	assert.Equal(t, "[datagram] <none> -> <none>", info.String())
}

func TestConnectionInfoListenerReference(t *testing.T) {
	l, err := NewListener(Stream, nil)
	assert.NoError(t, err)

	info := newConnectionInfo(Stream, nil, nil, ProtocolEnabled, l, time.Now())
	assert.True(t, info.Inbound())
	assert.Same(t, l, info.Listener())
}

func TestEndpointConversion(t *testing.T) {
	ap, err := endpointToAddrPort(&net.TCPAddr{IP: net.ParseIP("::ffff:10.1.2.3"), Port: 80})
	assert.NoError(t, err)
	assert.Equal(t, "10.1.2.3:80", ap.String())
	assert.Equal(t, "tcp4", network("tcp", ap))

	ap, err = endpointToAddrPort(&net.UDPAddr{IP: net.IPv6loopback, Port: 53})
	assert.NoError(t, err)
	assert.Equal(t, "udp6", network("udp", ap))

	ap, err = endpointToAddrPort(&net.TCPAddr{Port: 9})
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9", hostPort(ap))
	assert.Equal(t, "tcp", network("tcp", ap))

	_, err = endpointToAddrPort(&net.UnixAddr{Name: "/tmp/sock", Net: "unix"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var nilTCP *net.TCPAddr
	_, err = endpointToAddrPort(nilTCP)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = endpointToAddrPort(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	placeholder := anyEndpoint(Datagram, &net.UDPAddr{IP: net.IPv6loopback, Port: 1})
	assert.Equal(t, "[::]:0", placeholder.String())
	assert.Equal(t, "0.0.0.0:0", anyEndpoint(Datagram, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}).String())
}
