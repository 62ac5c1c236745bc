// Package netcomms is a transport-agnostic connection and listener framework
// for peer-to-peer applications.
//
// It unifies stream transports (TCP, KCP, WebSocket) and datagram transports
// (UDP) behind one connection abstraction, adds an optional application-layer
// protocol with typed packets and a peer-info handshake, and manages the
// lifecycle of listeners and connections uniformly.
//
// # Getting Started
//
// Create a Comms instance, register handlers and start listening:
//
//	opts := netcomms.NewOptions()
//	opts.Compress = true
//
//	comms, err := netcomms.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer comms.Shutdown()
//
//	comms.HandlePacket("Chat", func(p *packet.Packet, info *connection.ConnectionInfo) error {
//	    var msg string
//	    if err := p.Unmarshal(&msg); err != nil {
//	        return err
//	    }
//	    fmt.Printf("%s says %s\n", info.PeerIdentifier(), msg)
//	    return nil
//	})
//
//	_, err = comms.StartListening(connection.Stream,
//	    []net.Addr{&net.TCPAddr{IP: net.IPv4zero, Port: 10000}}, true)
//
// Connect to a peer and send a packet:
//
//	conn, err := comms.Connect(ctx, connection.Stream, &net.TCPAddr{IP: net.IPv4(192, 168, 1, 5), Port: 10000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = conn.Send("Chat", "hello")
//
// # Listeners
//
// A listener is bound once: StartListening moves it from Idle to Listening
// and StopListening moves it back for good. When the requested port is taken
// and port failover is allowed the listener retries exactly once on an
// OS-assigned port of the same address.
//
// Datagram listeners share a single socket between the listener, a default
// connection used for SendTo, and one logical connection per remote endpoint.
//
// # Configuration
//
// Options can be loaded from YAML with LoadOptions:
//
//	application_layer_protocol: true
//	serializer: cbor
//	compress: true
//	pre_shared_key: correct horse battery staple
//	allow_port_failover: true
//	handshake_timeout: 10s
//	log_level: debug
//
// # Logging
//
// Log output goes through logrus. Use logging.Configure to set the level
// and destination of the process-wide logger.
package netcomms
