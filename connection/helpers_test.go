package connection

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/netcomms/packet"
)

const waitTimeout = 5 * time.Second

var (
	loopbackTCP = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	loopbackUDP = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
)

// recordingLogger captures messages for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (r *recordingLogger) IsEnabled() bool { return true }

func (r *recordingLogger) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recordingLogger) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *recordingLogger) errorContaining(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.errors {
		if strings.Contains(e, sub) {
			return true
		}
	}
	return false
}

// fixedClock returns a constant time.
type fixedClock struct {
	t time.Time
}

func (f fixedClock) Now() time.Time { return f.t }

// received collects packets delivered to a handler.
type received struct {
	mu    sync.Mutex
	items []receivedItem
	ch    chan struct{}
}

type receivedItem struct {
	body   string
	remote net.Addr
	info   *ConnectionInfo
}

func newReceived() *received {
	return &received{ch: make(chan struct{}, 1024)}
}

func (r *received) handler(p *packet.Packet, info *ConnectionInfo) error {
	var body string
	if err := p.Unmarshal(&body); err != nil {
		return err
	}
	r.mu.Lock()
	r.items = append(r.items, receivedItem{body: body, remote: info.RemoteEndpoint(), info: info})
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func (r *received) wait(t *testing.T, n int) []receivedItem {
	t.Helper()
	deadline := time.After(waitTimeout)
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for packet %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedItem(nil), r.items...)
}

func waitClosed(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("connection %s did not close", c)
	}
}

// startListener creates and starts a listener on the loopback.
func startListener(t *testing.T, kind TransportKind, cfg *ListenerConfig) (*Listener, net.Addr) {
	t.Helper()
	l, err := NewListener(kind, cfg)
	require.NoError(t, err)

	var addr net.Addr = loopbackTCP
	if kind == Datagram || kind == ReliableDatagram {
		addr = loopbackUDP
	}
	bound, err := l.StartListening(addr, false)
	require.NoError(t, err)
	t.Cleanup(l.StopListening)
	return l, bound
}

// acceptedConnections captures connections announced through OnConnection.
func acceptedConnections(l *Listener) chan *Connection {
	ch := make(chan *Connection, 16)
	l.OnConnection(func(c *Connection) { ch <- c })
	return ch
}

func nextConnection(t *testing.T, ch chan *Connection) *Connection {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("no connection was accepted")
		return nil
	}
}

// manualClock only moves when advanced.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
