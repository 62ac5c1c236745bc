package connection

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/netcomms/limits"
	"github.com/opd-ai/netcomms/packet"
)

func TestDatagramDefaultConnection(t *testing.T) {
	l, bound := startListener(t, Datagram, nil)

	def := l.DefaultConnection()
	require.NotNil(t, def)
	assert.True(t, def.IsListenerDefault())
	assert.Equal(t, StateEstablished, def.State(), "established on bind")
	assert.Equal(t, bound, def.LocalEndpoint())
	assert.Equal(t, "0.0.0.0:0", def.Info().RemoteEndpoint().String())
	assert.Same(t, l, def.Info().Listener())

	err := def.Send("Chat", "nowhere")
	assert.ErrorIs(t, err, ErrNoRemoteEndpoint)
	assert.Equal(t, StateEstablished, def.State())
}

func TestDatagramTwoPeerRouting(t *testing.T) {
	l, err := NewListener(Datagram, nil)
	require.NoError(t, err)

	// Failover from an occupied port still yields a working shared socket.
	taken, release := occupy(t, Datagram)
	defer release()
	bound, err := l.StartListening(taken, true)
	require.NoError(t, err)
	defer l.StopListening()
	assert.NotEqual(t, portOf(taken), portOf(bound))

	got := newReceived()
	l.HandlePacket("Hello", got.handler)

	alice := dial(t, Datagram, bound, nil)
	bob := dial(t, Datagram, bound, nil)

	require.NoError(t, alice.Send("Hello", "alice"))
	require.NoError(t, bob.Send("Hello", "bob"))

	items := got.wait(t, 2)
	byBody := map[string]receivedItem{}
	for _, it := range items {
		byBody[it.body] = it
	}
	require.Contains(t, byBody, "alice")
	require.Contains(t, byBody, "bob")
	assert.Equal(t, alice.Info().LocalEndpoint().String(), byBody["alice"].remote.String())
	assert.Equal(t, bob.Info().LocalEndpoint().String(), byBody["bob"].remote.String())
	assert.NotSame(t, byBody["alice"].info, byBody["bob"].info, "each peer has its own logical connection")

	conns := l.Connections()
	assert.Len(t, conns, 2)
	for _, c := range conns {
		assert.False(t, c.IsListenerDefault())
		assert.Equal(t, StateEstablished, c.State())
	}

	// A second packet from alice is routed to the same logical connection.
	require.NoError(t, alice.Send("Hello", "alice"))
	items = got.wait(t, 1)
	assert.Same(t, byBody["alice"].info, items[len(items)-1].info)
	assert.Len(t, l.Connections(), 2)

	// Replies go out through the per-peer connection and the default connection.
	aliceGot := newReceived()
	alice.HandlePacket("Reply", aliceGot.handler)
	bobGot := newReceived()
	bob.HandlePacket("Reply", bobGot.handler)

	var aliceRoute *Connection
	for _, c := range conns {
		if c.Info() == byBody["alice"].info {
			aliceRoute = c
		}
	}
	require.NotNil(t, aliceRoute)
	require.NoError(t, aliceRoute.Send("Reply", "to alice"))
	assert.Equal(t, "to alice", aliceGot.wait(t, 1)[0].body)

	require.NoError(t, l.DefaultConnection().SendTo(bob.Info().LocalEndpoint(), "Reply", "to bob"))
	assert.Equal(t, "to bob", bobGot.wait(t, 1)[0].body)

	err = aliceRoute.SendTo(bob.Info().LocalEndpoint(), "Reply", "x")
	assert.ErrorIs(t, err, ErrNotDefaultConnection)
}

func TestDatagramStopClosesDefaultConnection(t *testing.T) {
	l, err := NewListener(Datagram, nil)
	require.NoError(t, err)
	bound, err := l.StartListening(loopbackUDP, false)
	require.NoError(t, err)

	got := newReceived()
	l.HandlePacket("Hello", got.handler)
	peer := dial(t, Datagram, bound, nil)
	require.NoError(t, peer.Send("Hello", "hi"))
	got.wait(t, 1)
	require.Len(t, l.Connections(), 1)
	sub := l.Connections()[0]

	def := l.DefaultConnection()
	l.StopListening()

	assert.Equal(t, StateClosed, def.State())
	reason, ok := def.Reason()
	require.True(t, ok)
	assert.Equal(t, ReasonListenerShutdown, reason)
	assert.Equal(t, -16, reason.Code())

	waitClosed(t, sub)
	reason, _ = sub.Reason()
	assert.Equal(t, ReasonListenerShutdown, reason)
	assert.Empty(t, l.Connections())

	// The shared socket is released.
	conn, err := net.ListenUDP("udp4", bound.(*net.UDPAddr))
	require.NoError(t, err)
	conn.Close()
}

func TestDatagramSubConnectionCloseKeepsSocket(t *testing.T) {
	l, bound := startListener(t, Datagram, nil)
	got := newReceived()
	l.HandlePacket("Hello", got.handler)

	peer := dial(t, Datagram, bound, nil)
	require.NoError(t, peer.Send("Hello", "first"))
	got.wait(t, 1)

	sub := l.Connections()[0]
	require.NoError(t, sub.Close())
	assert.Empty(t, l.Connections())
	assert.Equal(t, StateEstablished, l.DefaultConnection().State())

	// The next datagram from the same peer opens a new logical connection.
	require.NoError(t, peer.Send("Hello", "second"))
	items := got.wait(t, 1)
	assert.Equal(t, "second", items[len(items)-1].body)
	require.Len(t, l.Connections(), 1)
	assert.NotSame(t, sub, l.Connections()[0])
}

func TestDatagramHandshake(t *testing.T) {
	cfg := Config{DatagramOptions: DatagramHandshake}
	l, bound := startListener(t, Datagram, &ListenerConfig{Config: Config{
		DatagramOptions: DatagramHandshake,
		Handshaker:      &PeerInfoHandshake{Identifier: "listener"},
	}})
	accepted := acceptedConnections(l)
	got := newReceived()
	l.HandlePacket("Hello", got.handler)

	cfg.Handshaker = &PeerInfoHandshake{Identifier: "dialer"}
	peer := dial(t, Datagram, bound, &DialConfig{Config: cfg})
	assert.Equal(t, "listener", peer.Info().PeerIdentifier())

	sub := nextConnection(t, accepted)
	assert.Equal(t, "dialer", sub.Info().PeerIdentifier())

	require.NoError(t, peer.Send("Hello", "after handshake"))
	assert.Equal(t, "after handshake", got.wait(t, 1)[0].body)
}

func TestDatagramDropsMalformedInput(t *testing.T) {
	log := &recordingLogger{}
	l, bound := startListener(t, Datagram, &ListenerConfig{Config: Config{Logger: log}})
	got := newReceived()
	l.HandlePacket("Hello", got.handler)

	raw, err := net.DialUDP("udp4", nil, bound.(*net.UDPAddr))
	require.NoError(t, err)
	defer raw.Close()

	p, err := packet.NewPacket("Hello", "valid", nil)
	require.NoError(t, err)
	frame, err := packet.Managed{}.Encode(p, nil)
	require.NoError(t, err)

	// Truncated frame, then a frame with trailing bytes, then a valid one.
	_, err = raw.Write(frame[:len(frame)-1])
	require.NoError(t, err)
	_, err = raw.Write(append(append([]byte{}, frame...), 0xAA))
	require.NoError(t, err)
	_, err = raw.Write(frame)
	require.NoError(t, err)

	items := got.wait(t, 1)
	assert.Equal(t, "valid", items[0].body)
	assert.Eventually(t, func() bool {
		return log.errorContaining("truncated frame") && log.errorContaining("trailing bytes")
	}, waitTimeout, 10*time.Millisecond)
}

func TestDatagramOversizedSendDoesNotClose(t *testing.T) {
	_, bound := startListener(t, Datagram, nil)
	peer := dial(t, Datagram, bound, &DialConfig{Config: Config{Options: packet.RawOptions()}})

	err := peer.Send("Blob", make([]byte, limits.MaxDatagramPayload+1))
	assert.ErrorIs(t, err, limits.ErrFrameTooLarge)
	assert.Equal(t, StateEstablished, peer.State())
}

func TestDatagramClosingDefaultConnectionStopsListener(t *testing.T) {
	d := &fakeDiscoverer{}
	l, err := NewListener(Datagram, &ListenerConfig{AllowDiscoverable: true, Discoverer: d})
	require.NoError(t, err)
	bound, err := l.StartListening(loopbackUDP, false)
	require.NoError(t, err)

	def := l.DefaultConnection()
	require.NoError(t, def.Close())
	waitClosed(t, def)

	assert.False(t, l.IsListening())
	assert.Nil(t, l.LocalListenEndpoint())
	assert.Equal(t, 1, d.withdrawn)

	_, err = l.StartListening(loopbackUDP, false)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	l.StopListening()
	assert.Equal(t, 1, d.withdrawn)

	// The shared socket is released.
	conn, err := net.ListenUDP("udp4", bound.(*net.UDPAddr))
	require.NoError(t, err)
	conn.Close()
}

func TestDatagramRoutingTableIsBounded(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	log := &recordingLogger{}
	l, bound := startListener(t, Datagram, &ListenerConfig{
		Config:           Config{Logger: log, TimeProvider: clock},
		MaxDatagramPeers: 1,
		PeerIdleTimeout:  time.Minute,
	})
	got := newReceived()
	l.HandlePacket("Hello", got.handler)

	alice := dial(t, Datagram, bound, nil)
	bob := dial(t, Datagram, bound, nil)

	require.NoError(t, alice.Send("Hello", "alice"))
	got.wait(t, 1)
	require.Len(t, l.Connections(), 1)
	aliceRoute := l.Connections()[0]

	// The table is full and alice has not been idle long enough.
	require.NoError(t, bob.Send("Hello", "bob"))
	require.Eventually(t, func() bool { return log.errorContaining("is full") }, waitTimeout, 10*time.Millisecond)
	require.Len(t, l.Connections(), 1)
	assert.Same(t, aliceRoute, l.Connections()[0])

	clock.Advance(2 * time.Minute)
	require.NoError(t, bob.Send("Hello", "bob"))
	items := got.wait(t, 1)
	assert.Equal(t, "bob", items[len(items)-1].body)

	waitClosed(t, aliceRoute)
	reason, _ := aliceRoute.Reason()
	assert.Equal(t, ReasonIdleEvicted, reason)
	conns := l.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, bob.Info().LocalEndpoint().String(), conns[0].Info().RemoteEndpoint().String())
}
