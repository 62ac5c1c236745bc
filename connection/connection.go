package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/netcomms/limits"
	"github.com/opd-ai/netcomms/packet"
)

// PacketHandler processes a received packet. Returned errors are logged.
type PacketHandler func(p *packet.Packet, info *ConnectionInfo) error

// transport is the handle a Connection owns. Stream connections own an OS
// socket. Datagram sub-connections own a route on their listener's socket.
type transport interface {
	// write sends one encoded frame to the connection's peer.
	write(frame []byte) error
	// writeTo sends one encoded frame to an arbitrary peer.
	writeTo(frame []byte, remote netip.AddrPort) error
	// receive runs the receive worker until the handle is closed.
	receive(c *Connection)
	// close releases the handle.
	close() error
}

// Connection is one logical connection: its identity, its send/receive
// options, the transport handle it owns and its lifecycle state.
//
// Received packets are decoded on the transport's receive worker and handed
// to a per-connection dispatcher, so handlers run off the I/O path and see
// packets in arrival order.
type Connection struct {
	info      *ConnectionInfo
	opts      *packet.Options
	cfg       Config
	framer    packet.Framer
	transport transport
	isDefault bool
	handshake bool
	parent    *Connection

	state   atomic.Int32
	reason  atomic.Int32
	sendSeq atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}

	queue   chan *packet.Packet
	setupCh chan *packet.Packet

	mu            sync.RWMutex
	handlers      map[string]PacketHandler
	closeHandlers []func(*Connection, CloseReason)

	startOnce sync.Once
}

func newConnection(info *ConnectionInfo, cfg Config, t transport, isDefault bool) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		info:      info,
		opts:      cfg.Options,
		cfg:       cfg,
		framer:    cfg.framer(),
		transport: t,
		isDefault: isDefault,
		handshake: !isDefault && cfg.handshakeRequired(info.Kind()),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		queue:     make(chan *packet.Packet, limits.DispatchQueueSize),
		setupCh:   make(chan *packet.Packet, 1),
		handlers:  make(map[string]PacketHandler),
	}
	c.reason.Store(-1)
	c.state.Store(int32(StateCreated))
	return c
}

// start launches the receive worker and the lifecycle worker.
func (c *Connection) start() {
	c.startOnce.Do(func() {
		go c.transport.receive(c)
		go c.run()
	})
}

// run handshakes if required, establishes the connection and then
// dispatches received packets until the connection closes.
func (c *Connection) run() {
	if c.handshake {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
		err := c.cfg.Handshaker.Handshake(ctx, c)
		cancel()
		if err != nil {
			if c.State() < StateShuttingDown {
				logError(c.cfg.Logger, "Handshake with %s failed: %v", addrString(c.info.RemoteEndpoint()), err)
				c.CloseConnection(true, ReasonHandshakeFailed)
			}
			return
		}
	}

	established := c.establish()
	if !established && c.State() != StateEstablished {
		// The peer closed before the connection was established. Packets it
		// sent before closing are still dispatched.
		c.info.markEstablished(c.cfg.TimeProvider.Now())
		close(c.ready)
		c.notifyListener()
		c.drain()
		return
	}

	if established {
		c.notifyListener()
	}

	for {
		select {
		case p := <-c.queue:
			c.dispatch(p)
		case <-c.ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Connection) notifyListener() {
	if c.isDefault {
		return
	}
	if l := c.info.Listener(); l != nil {
		l.notifyConnection(c)
	}
}

// drain dispatches packets that were queued before the connection closed.
func (c *Connection) drain() {
	for {
		select {
		case p := <-c.queue:
			c.dispatch(p)
		default:
			return
		}
	}
}

// establish moves the connection from Created to Established.
func (c *Connection) establish() bool {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateEstablished)) {
		return false
	}
	c.info.markEstablished(c.cfg.TimeProvider.Now())
	close(c.ready)
	return true
}

// Info returns the connection's identity record.
func (c *Connection) Info() *ConnectionInfo { return c.info }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Options returns the send/receive options bound to the connection.
func (c *Connection) Options() *packet.Options { return c.opts }

// IsListenerDefault reports whether c is a datagram listener's default connection.
func (c *Connection) IsListenerDefault() bool { return c.isDefault }

// LocalEndpoint returns the bound local endpoint once the connection is established.
func (c *Connection) LocalEndpoint() net.Addr {
	if c.State() < StateEstablished {
		return nil
	}
	return c.info.LocalEndpoint()
}

// Done is closed once the connection is Closed and its OnClose callbacks have run.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Established is closed when the connection reaches StateEstablished.
func (c *Connection) Established() <-chan struct{} { return c.ready }

// Reason returns the close reason once the connection has started shutting down.
func (c *Connection) Reason() (CloseReason, bool) {
	r := c.reason.Load()
	if r < 0 {
		return 0, false
	}
	return CloseReason(r), true
}

// HandlePacket registers the handler for a packet type, replacing any previous one.
func (c *Connection) HandlePacket(packetType string, handler PacketHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[packetType] = handler
}

// RemoveHandler unregisters the handler for a packet type.
func (c *Connection) RemoveHandler(packetType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, packetType)
}

// OnClose registers a callback that runs once the connection is closed. If
// the connection is already closed the callback runs immediately.
func (c *Connection) OnClose(fn func(*Connection, CloseReason)) {
	c.mu.Lock()
	if c.State() != StateClosed {
		c.closeHandlers = append(c.closeHandlers, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	reason, _ := c.Reason()
	fn(c, reason)
}

// Send serializes v with the connection's options and sends it as packetType.
func (c *Connection) Send(packetType string, v interface{}) error {
	p, err := packet.NewPacket(packetType, v, c.opts)
	if err != nil {
		return newCommsError("send", addrString(c.info.RemoteEndpoint()), err)
	}
	return c.SendPacket(p)
}

// SendPacket frames p and writes it to the peer. A transport failure closes
// the connection with ReasonLocalError.
func (c *Connection) SendPacket(p *packet.Packet) error {
	if err := c.checkSendable(); err != nil {
		return err
	}
	if c.isDefault {
		return newCommsError("send", "", fmt.Errorf("%w: use SendTo", ErrNoRemoteEndpoint))
	}
	return c.sendFrame(p)
}

// SendTo sends a packet to an arbitrary peer through a datagram listener's
// default connection. Write failures do not close the default connection.
func (c *Connection) SendTo(remote net.Addr, packetType string, v interface{}) error {
	if !c.isDefault {
		return newCommsError("send", addrString(remote), ErrNotDefaultConnection)
	}
	if err := c.checkSendable(); err != nil {
		return err
	}
	ap, err := endpointToAddrPort(remote)
	if err != nil {
		return err
	}

	p, err := packet.NewPacket(packetType, v, c.opts)
	if err != nil {
		return newCommsError("send", ap.String(), err)
	}
	frame, err := c.encode(p)
	if err != nil {
		return newCommsError("send", ap.String(), err)
	}
	if err := c.transport.writeTo(frame, ap); err != nil {
		logError(c.cfg.Logger, "Failed to send %s packet to %s: %v", p.Type(), ap, err)
		return newCommsError("send", ap.String(), wrapKind(ErrSendReceive, err))
	}
	c.info.touch(c.cfg.TimeProvider.Now())
	return nil
}

// SendSetup sends a ConnectionSetup packet. Handshakers call it before the
// connection is established.
func (c *Connection) SendSetup(v interface{}) error {
	if c.State() >= StateShuttingDown {
		return newCommsError("handshake", addrString(c.info.RemoteEndpoint()), ErrConnectionClosed)
	}
	p, err := packet.NewPacket(packet.TypeConnectionSetup, v, packet.DefaultOptions())
	if err != nil {
		return newCommsError("handshake", addrString(c.info.RemoteEndpoint()), err)
	}
	return c.sendFrame(p)
}

// ReceiveSetup waits for the peer's ConnectionSetup packet. A setup packet
// that arrived before the peer closed is still returned.
func (c *Connection) ReceiveSetup(ctx context.Context) (*packet.Packet, error) {
	if p, ok := c.pendingSetup(); ok {
		return p, nil
	}
	select {
	case p := <-c.setupCh:
		return p.WithOptions(packet.DefaultOptions()), nil
	case <-ctx.Done():
		if p, ok := c.pendingSetup(); ok {
			return p, nil
		}
		return nil, ctx.Err()
	case <-c.done:
		if p, ok := c.pendingSetup(); ok {
			return p, nil
		}
		return nil, ErrConnectionClosed
	}
}

func (c *Connection) pendingSetup() (*packet.Packet, bool) {
	select {
	case p := <-c.setupCh:
		return p.WithOptions(packet.DefaultOptions()), true
	default:
		return nil, false
	}
}

func (c *Connection) checkSendable() error {
	switch c.State() {
	case StateCreated:
		return newCommsError("send", addrString(c.info.RemoteEndpoint()), fmt.Errorf("%w: connection not established", ErrInvalidOperation))
	case StateShuttingDown, StateClosed:
		return newCommsError("send", addrString(c.info.RemoteEndpoint()), ErrConnectionClosed)
	}
	return nil
}

// encode frames p with the next sequence number and applies datagram size limits.
func (c *Connection) encode(p *packet.Packet) ([]byte, error) {
	out := *p
	out.Header.Sequence = c.sendSeq.Add(1)
	frame, err := c.framer.Encode(&out, c.opts)
	if err != nil {
		return nil, err
	}
	if !c.info.Kind().ConnectionOriented() {
		if err := limits.ValidateDatagram(frame); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func (c *Connection) sendFrame(p *packet.Packet) error {
	remote := addrString(c.info.RemoteEndpoint())
	frame, err := c.encode(p)
	if err != nil {
		return newCommsError("send", remote, err)
	}

	if err := c.transport.write(frame); err != nil {
		if c.State() >= StateShuttingDown {
			return newCommsError("send", remote, wrapKind(ErrConnectionClosed, err))
		}
		logError(c.cfg.Logger, "Failed to send %s packet to %s, closing connection: %v", p.Type(), remote, err)
		c.CloseConnection(true, ReasonLocalError)
		return newCommsError("send", remote, wrapKind(ErrSendReceive, err))
	}
	c.info.touch(c.cfg.TimeProvider.Now())
	return nil
}

// deliver hands a decoded packet to the dispatcher. It returns false once the
// connection is shutting down. Datagram connections drop packets when the
// dispatch queue is full, stream connections apply backpressure.
func (c *Connection) deliver(p *packet.Packet) bool {
	if c.State() >= StateShuttingDown {
		return false
	}
	c.info.touch(c.cfg.TimeProvider.Now())

	if p.Type() == packet.TypeConnectionSetup && c.State() == StateCreated {
		select {
		case c.setupCh <- p:
		default:
			logInfo(c.cfg.Logger, "Dropping duplicate ConnectionSetup packet from %s", addrString(c.info.RemoteEndpoint()))
		}
		return true
	}

	if !c.info.Kind().ConnectionOriented() {
		select {
		case c.queue <- p:
		default:
			logError(c.cfg.Logger, "Dispatch queue full, dropping %s packet from %s", p.Type(), addrString(c.info.RemoteEndpoint()))
		}
		return true
	}

	select {
	case c.queue <- p:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Connection) dispatch(p *packet.Packet) {
	handler := c.lookupHandler(p.Type())
	if handler == nil {
		logInfo(c.cfg.Logger, "No handler registered for %s packet from %s, dropping", p.Type(), addrString(c.info.RemoteEndpoint()))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logError(c.cfg.Logger, "Handler for %s packet panicked: %v", p.Type(), r)
		}
	}()
	if err := handler(p, c.info); err != nil {
		logError(c.cfg.Logger, "Handler for %s packet from %s failed: %v", p.Type(), addrString(c.info.RemoteEndpoint()), err)
	}
}

// lookupHandler resolves a handler from the connection, then its datagram
// parent, then the owning listener.
func (c *Connection) lookupHandler(packetType string) PacketHandler {
	c.mu.RLock()
	h := c.handlers[packetType]
	c.mu.RUnlock()
	if h != nil {
		return h
	}
	if c.parent != nil {
		c.parent.mu.RLock()
		h = c.parent.handlers[packetType]
		c.parent.mu.RUnlock()
		if h != nil {
			return h
		}
	}
	if l := c.info.Listener(); l != nil {
		return l.handler(packetType)
	}
	return nil
}

// CloseConnection moves the connection to StateClosed from any non-terminal
// state and releases its transport handle. Repeated calls are no-ops. The
// reason is recorded and logged but does not change teardown behaviour.
func (c *Connection) CloseConnection(closeDueToError bool, reason CloseReason) {
	for {
		s := c.State()
		if s >= StateShuttingDown {
			return
		}
		if c.state.CompareAndSwap(int32(s), int32(StateShuttingDown)) {
			break
		}
	}

	c.reason.Store(int32(reason))
	c.info.markShutdown()
	c.cancel()

	if err := c.transport.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logError(c.cfg.Logger, "Closing transport of %s: %v", c.info, err)
	}

	if closeDueToError {
		logError(c.cfg.Logger, "Closing connection %s due to error, reason %s (code %d)", c.info, reason, reason.Code())
	} else {
		logInfo(c.cfg.Logger, "Closing connection %s, reason %s (code %d)", c.info, reason, reason.Code())
	}

	c.state.Store(int32(StateClosed))

	c.mu.Lock()
	handlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(c, reason)
	}
	close(c.done)
}

// Close closes the connection gracefully. It implements io.Closer.
func (c *Connection) Close() error {
	c.CloseConnection(false, ReasonRequested)
	return nil
}

func (c *Connection) String() string {
	return c.info.String()
}
