package connection

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/opd-ai/netcomms/limits"
	"github.com/opd-ai/netcomms/packet"
)

// binding is the per-transport half of a listener: how to bind the handle,
// how to accept or receive on it and how to tear it down.
type binding interface {
	// bind opens the handle on addr and returns the OS-reported endpoint.
	// On failure nothing stays open.
	bind(addr netip.AddrPort) (net.Addr, error)
	// serve accepts or receives until the handle is closed.
	serve()
	// close releases the handle and unblocks serve.
	close() error
	// boundLocalEndpoint returns the endpoint reported by the OS.
	boundLocalEndpoint() net.Addr
	// connections returns the live connections produced by the binding.
	connections() []*Connection
	// defaultConnection returns the connection sharing the handle, if any.
	defaultConnection() *Connection
}

// Listener accepts or receives connections of one transport kind on one
// local endpoint.
//
// A Listener is Idle until StartListening succeeds and Listening until
// StopListening. It cannot be restarted after it has been stopped.
type Listener struct {
	kind TransportKind
	cfg  ListenerConfig

	// opMu serializes StartListening and StopListening.
	opMu sync.Mutex

	stateMu   sync.RWMutex
	listening bool
	stopped   bool
	endpoint  net.Addr
	binding   binding
	serveDone chan struct{}

	handlersMu   sync.RWMutex
	handlers     map[string]PacketHandler
	onConnection []func(*Connection)
}

// NewListener creates an idle listener. Contradictory options are rejected
// with ErrInvalidConfiguration.
func NewListener(kind TransportKind, cfg *ListenerConfig) (*Listener, error) {
	if cfg == nil {
		cfg = &ListenerConfig{}
	}
	base, err := cfg.Config.normalize(kind)
	if err != nil {
		return nil, newCommsError("new listener", "", err)
	}
	if cfg.AllowDiscoverable && cfg.Discoverer == nil {
		return nil, newCommsError("new listener", "", fmt.Errorf("%w: discoverable listener without a discoverer", ErrInvalidConfiguration))
	}

	normalized := *cfg
	normalized.Config = base
	if normalized.MaxDatagramPeers <= 0 {
		normalized.MaxDatagramPeers = limits.MaxDatagramPeers
	}
	if normalized.PeerIdleTimeout <= 0 {
		normalized.PeerIdleTimeout = limits.DatagramPeerIdleTimeout
	}
	return &Listener{
		kind:     kind,
		cfg:      normalized,
		handlers: make(map[string]PacketHandler),
	}, nil
}

// StartListening binds desired and starts accepting or receiving on it.
// On bind failure with allowPortFailover it retries once on an OS-assigned
// port of the same address. It returns the bound endpoint.
func (l *Listener) StartListening(desired net.Addr, allowPortFailover bool) (net.Addr, error) {
	ap, err := endpointToAddrPort(desired)
	if err != nil {
		return nil, newCommsError("listen", addrString(desired), err)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.stateMu.RLock()
	listening, stopped := l.listening, l.stopped
	l.stateMu.RUnlock()
	if listening {
		return nil, newCommsError("listen", hostPort(ap), fmt.Errorf("%w: attempted to start listening when already listening", ErrInvalidOperation))
	}
	if stopped {
		return nil, newCommsError("listen", hostPort(ap), fmt.Errorf("%w: listener has been stopped", ErrInvalidOperation))
	}

	b, bound, err := bindWithFailover(ap, allowPortFailover, l.newBinding, l.cfg.Logger)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	l.stateMu.Lock()
	l.binding = b
	l.endpoint = bound
	l.listening = true
	l.serveDone = done
	l.stateMu.Unlock()

	go func() {
		defer close(done)
		b.serve()
	}()

	if l.cfg.AllowDiscoverable {
		if err := l.cfg.Discoverer.Advertise(l); err != nil {
			logError(l.cfg.Logger, "Failed to advertise %s listener on %s: %v", l.kind, bound, err)
		}
	}

	logInfo(l.cfg.Logger, "Listening for %s connections on %s", l.kind, bound)
	return bound, nil
}

// StopListening stops accepting and releases the bound handle. A datagram
// listener closes its default connection with ReasonListenerShutdown.
// Connections a stream listener already accepted stay open. Calling it on a
// listener that is not listening does nothing.
func (l *Listener) StopListening() {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.stateMu.Lock()
	if !l.listening {
		l.stateMu.Unlock()
		return
	}
	b, done, endpoint := l.binding, l.serveDone, l.endpoint
	l.listening = false
	l.stopped = true
	l.endpoint = nil
	l.stateMu.Unlock()

	if l.cfg.AllowDiscoverable {
		l.cfg.Discoverer.Withdraw(l)
	}

	if err := b.close(); err != nil {
		logError(l.cfg.Logger, "Error closing %s listener on %s: %v", l.kind, endpoint, err)
	}
	<-done

	logInfo(l.cfg.Logger, "Stopped listening for %s connections on %s", l.kind, endpoint)
}

// released moves the listener to its stopped state when its handle was
// closed from below, e.g. by closing a datagram listener's default
// connection directly. The handle is already closed.
func (l *Listener) released(b binding) {
	l.stateMu.Lock()
	if !l.listening || l.binding != b {
		l.stateMu.Unlock()
		return
	}
	endpoint := l.endpoint
	l.listening = false
	l.stopped = true
	l.endpoint = nil
	l.stateMu.Unlock()

	if l.cfg.AllowDiscoverable {
		l.cfg.Discoverer.Withdraw(l)
	}
	logInfo(l.cfg.Logger, "Stopped listening for %s connections on %s, default connection closed", l.kind, endpoint)
}

// IsListening reports whether the listener is bound and serving.
func (l *Listener) IsListening() bool {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.listening
}

// LocalListenEndpoint returns the bound endpoint, or nil when not listening.
func (l *Listener) LocalListenEndpoint() net.Addr {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.endpoint
}

// Kind returns the listener's transport kind.
func (l *Listener) Kind() TransportKind { return l.kind }

// Protocol returns the application-layer protocol status.
func (l *Listener) Protocol() ApplicationLayerProtocol { return l.cfg.Protocol }

// DefaultOptions returns the send/receive options given to produced connections.
func (l *Listener) DefaultOptions() *packet.Options { return l.cfg.Options }

// AllowDiscoverable reports whether the listener advertises itself.
func (l *Listener) AllowDiscoverable() bool { return l.cfg.AllowDiscoverable }

// DefaultConnection returns the connection that shares a datagram
// listener's socket. It is nil for stream-shaped listeners and before the
// first successful StartListening.
func (l *Listener) DefaultConnection() *Connection {
	l.stateMu.RLock()
	b := l.binding
	l.stateMu.RUnlock()
	if b == nil {
		return nil
	}
	return b.defaultConnection()
}

// Connections returns the live connections the listener produced.
func (l *Listener) Connections() []*Connection {
	l.stateMu.RLock()
	b := l.binding
	l.stateMu.RUnlock()
	if b == nil {
		return nil
	}
	return b.connections()
}

// HandlePacket registers a handler inherited by every connection the
// listener produces. Handlers registered on a connection take precedence.
func (l *Listener) HandlePacket(packetType string, handler PacketHandler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[packetType] = handler
}

// RemoveHandler unregisters a listener-level handler.
func (l *Listener) RemoveHandler(packetType string) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	delete(l.handlers, packetType)
}

// OnConnection registers a hook that runs for every produced connection
// once it is established and before any of its packets are dispatched.
func (l *Listener) OnConnection(fn func(*Connection)) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.onConnection = append(l.onConnection, fn)
}

func (l *Listener) handler(packetType string) PacketHandler {
	l.handlersMu.RLock()
	defer l.handlersMu.RUnlock()
	return l.handlers[packetType]
}

func (l *Listener) notifyConnection(c *Connection) {
	l.handlersMu.RLock()
	hooks := append([]func(*Connection){}, l.onConnection...)
	l.handlersMu.RUnlock()

	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logError(l.cfg.Logger, "Connection hook panicked for %s: %v", c, r)
				}
			}()
			fn(c)
		}()
	}
}

func (l *Listener) newBinding() binding {
	switch l.kind {
	case Datagram:
		return newDatagramBinding(l)
	case ReliableDatagram:
		return newStreamBinding(l, kcpAcceptor{})
	case WebSocket:
		return newStreamBinding(l, wsAcceptor{})
	default:
		return newStreamBinding(l, tcpAcceptor{})
	}
}

func (l *Listener) String() string {
	if ep := l.LocalListenEndpoint(); ep != nil {
		return fmt.Sprintf("%s listener on %s", l.kind, ep)
	}
	return fmt.Sprintf("%s listener (idle)", l.kind)
}
