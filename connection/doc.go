// Package connection implements the netcomms connection and listener core.
//
// A Listener binds one local endpoint for one transport kind and produces
// Connections. Stream-shaped kinds (TCP, KCP, WebSocket) accept one socket
// per connection. Datagram listeners share one UDP socket between the
// listener, its default connection and per-peer logical connections keyed by
// remote endpoint.
//
// Every Connection moves through Created, Established, ShuttingDown and
// Closed. Received packets are decoded on the transport's receive worker and
// dispatched to handlers on a separate per-connection worker, in order.
//
//	l, err := connection.NewListener(connection.Stream, nil)
//	if err != nil {
//		return err
//	}
//	bound, err := l.StartListening(&net.TCPAddr{IP: net.IPv4zero}, true)
//	...
//	l.HandlePacket("Chat", func(p *packet.Packet, info *connection.ConnectionInfo) error {
//		var msg string
//		return p.Unmarshal(&msg)
//	})
//	...
//	l.StopListening()
package connection
