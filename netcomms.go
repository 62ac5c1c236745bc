package netcomms

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/netcomms/connection"
	"github.com/opd-ai/netcomms/discovery"
	"github.com/opd-ai/netcomms/logging"
	"github.com/opd-ai/netcomms/packet"
)

// Comms owns a set of listeners and outbound connections that share one
// identity, one set of send/receive options and one set of packet handlers.
type Comms struct {
	options   *Options
	log       *logging.Logger
	registry  *discovery.Registry
	handshake *connection.PeerInfoHandshake
	sendOpts  *packet.Options

	mu        sync.RWMutex
	listeners []*connection.Listener
	outbound  map[*connection.Connection]struct{}
	handlers  map[string]connection.PacketHandler
	shutdown  bool
}

// New creates a Comms instance. Nil options select NewOptions.
func New(options *Options) (*Comms, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	sendOpts, err := options.sendReceiveOptions()
	if err != nil {
		return nil, err
	}

	id := options.Identifier
	if id == "" {
		id = uuid.NewString()
	}

	log := logging.Default().WithField("identifier", id)
	c := &Comms{
		options:  options,
		log:      log,
		registry: discovery.NewRegistry(options.DiscoveryTTL, logging.New("discovery")),
		sendOpts: sendOpts,
		outbound: make(map[*connection.Connection]struct{}),
		handlers: make(map[string]connection.PacketHandler),
	}
	c.handshake = &connection.PeerInfoHandshake{
		Identifier:      id,
		ListenEndpoints: c.ListenEndpoints,
	}

	log.WithFields(logrus.Fields{
		"function": "New",
		"protocol": options.protocol().String(),
		"options":  sendOpts.String(),
	}).Info("Created comms instance")
	return c, nil
}

// Identifier returns the identifier announced to peers.
func (c *Comms) Identifier() string {
	return c.handshake.Identifier
}

// Registry returns the discovery registry listeners advertise in.
func (c *Comms) Registry() *discovery.Registry {
	return c.registry
}

func (c *Comms) config(kind connection.TransportKind) connection.Config {
	return connection.Config{
		Protocol:         c.options.protocol(),
		DatagramOptions:  c.options.datagramOptions(kind),
		Options:          c.sendOpts,
		Handshaker:       c.handshake,
		HandshakeTimeout: c.options.HandshakeTimeout,
		Logger:           c.log,
	}
}

// HandlePacket registers a handler on every current and future listener and
// outbound connection.
func (c *Comms) HandlePacket(packetType string, handler connection.PacketHandler) {
	c.mu.Lock()
	c.handlers[packetType] = handler
	listeners := append([]*connection.Listener(nil), c.listeners...)
	outbound := make([]*connection.Connection, 0, len(c.outbound))
	for conn := range c.outbound {
		outbound = append(outbound, conn)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l.HandlePacket(packetType, handler)
	}
	for _, conn := range outbound {
		conn.HandlePacket(packetType, handler)
	}
}

// StartListening starts one listener per endpoint, concurrently. If any
// endpoint fails every listener started by this call is stopped again and
// the first error is returned.
func (c *Comms) StartListening(kind connection.TransportKind, endpoints []net.Addr, allowPortFailover bool) ([]*connection.Listener, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints", connection.ErrInvalidArgument)
	}

	c.mu.RLock()
	closed := c.shutdown
	handlers := make(map[string]connection.PacketHandler, len(c.handlers))
	for k, h := range c.handlers {
		handlers[k] = h
	}
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: comms has been shut down", connection.ErrInvalidOperation)
	}

	started := make([]*connection.Listener, len(endpoints))
	var g errgroup.Group
	for i, ep := range endpoints {
		g.Go(func() error {
			l, err := connection.NewListener(kind, &connection.ListenerConfig{
				Config:            c.config(kind),
				AllowDiscoverable: c.options.AllowDiscoverable,
				Discoverer:        c.registry,
			})
			if err != nil {
				return err
			}
			for packetType, h := range handlers {
				l.HandlePacket(packetType, h)
			}
			if _, err := l.StartListening(ep, allowPortFailover); err != nil {
				return err
			}
			started[i] = l
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, l := range started {
			if l != nil {
				l.StopListening()
			}
		}
		c.log.WithError(err, "StartListening").WithFields(logrus.Fields{
			"kind":      kind.String(),
			"endpoints": len(endpoints),
		}).Error("Failed to start listening, rolled back")
		return nil, err
	}

	c.mu.Lock()
	c.listeners = append(c.listeners, started...)
	c.mu.Unlock()

	for _, l := range started {
		c.log.WithFields(logrus.Fields{
			"function": "StartListening",
			"kind":     kind.String(),
			"endpoint": l.LocalListenEndpoint().String(),
		}).Info("Listener started")
	}
	return started, nil
}

// Listen starts listening on endpoints with the port failover policy from
// the options.
func (c *Comms) Listen(kind connection.TransportKind, endpoints ...net.Addr) ([]*connection.Listener, error) {
	return c.StartListening(kind, endpoints, c.options.AllowPortFailover)
}

// Connect dials remote and returns the established connection.
func (c *Comms) Connect(ctx context.Context, kind connection.TransportKind, remote net.Addr) (*connection.Connection, error) {
	c.mu.RLock()
	closed := c.shutdown
	handlers := make(map[string]connection.PacketHandler, len(c.handlers))
	for k, h := range c.handlers {
		handlers[k] = h
	}
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: comms has been shut down", connection.ErrInvalidOperation)
	}

	conn, err := connection.Dial(ctx, kind, remote, &connection.DialConfig{
		Config:   c.config(kind),
		Handlers: handlers,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%w: comms has been shut down", connection.ErrInvalidOperation)
	}
	c.outbound[conn] = struct{}{}
	c.mu.Unlock()

	conn.OnClose(func(conn *connection.Connection, _ connection.CloseReason) {
		c.mu.Lock()
		delete(c.outbound, conn)
		c.mu.Unlock()
	})

	c.log.WithFields(logrus.Fields{
		"function": "Connect",
		"kind":     kind.String(),
		"remote":   remote.String(),
		"peer":     conn.Info().PeerIdentifier(),
	}).Info("Connection established")
	return conn, nil
}

// Listeners returns the listeners started through this instance.
func (c *Comms) Listeners() []*connection.Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*connection.Listener(nil), c.listeners...)
}

// ListenEndpoints returns the bound endpoints of every listening listener.
func (c *Comms) ListenEndpoints() []string {
	var out []string
	for _, l := range c.Listeners() {
		if ep := l.LocalListenEndpoint(); ep != nil {
			out = append(out, ep.String())
		}
	}
	return out
}

// Connections returns every live connection: outbound ones and those
// produced by the listeners.
func (c *Comms) Connections() []*connection.Connection {
	c.mu.RLock()
	out := make([]*connection.Connection, 0, len(c.outbound))
	for conn := range c.outbound {
		out = append(out, conn)
	}
	listeners := append([]*connection.Listener(nil), c.listeners...)
	c.mu.RUnlock()

	for _, l := range listeners {
		out = append(out, l.Connections()...)
	}
	return out
}

// Shutdown stops every listener and closes every connection. The instance
// cannot be used afterwards. Repeated calls do nothing.
func (c *Comms) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	conns := c.Connections()
	listeners := c.Listeners()

	var g errgroup.Group
	for _, l := range listeners {
		g.Go(func() error {
			l.StopListening()
			return nil
		})
	}
	for _, conn := range conns {
		g.Go(func() error {
			conn.CloseConnection(false, connection.ReasonRequested)
			return nil
		})
	}
	err := g.Wait()

	c.log.WithFields(logrus.Fields{
		"function":    "Shutdown",
		"listeners":   len(listeners),
		"connections": len(conns),
	}).Info("Comms shut down")
	return err
}
