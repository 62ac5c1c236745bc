package main

import (
	"context"
	"net"

	"github.com/urfave/cli/v3"

	"github.com/opd-ai/netcomms/connection"
	"github.com/opd-ai/netcomms/packet"
)

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:      "listen",
		Usage:     "listen on one or more endpoints and print received messages",
		ArgsUsage: " ",
		Flags:     append(optionFlags(), listenFlags()...),
		Action:    listen,
	}
}

// listenFlags are the flags only the listen command takes.
func listenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "endpoint to listen on, host:port (repeatable)",
			Value:   []string{"0.0.0.0:10000"},
		},
		&cli.BoolFlag{
			Name:  "no-failover",
			Usage: "fail instead of retrying on a random port (overrides allow_port_failover)",
		},
		&cli.BoolFlag{
			Name:  "discoverable",
			Usage: "advertise the listeners in the discovery registry",
		},
		&cli.BoolFlag{
			Name:  "echo",
			Usage: "send every received message back to its sender",
		},
	}
}

func listen(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	comms, kind, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	var endpoints []net.Addr
	for _, s := range cmd.StringSlice("addr") {
		ep, err := parseEndpoint(kind, s)
		if err != nil {
			return fail("invalid endpoint %q: %w", s, err)
		}
		endpoints = append(endpoints, ep)
	}

	echo := cmd.Bool("echo")
	show := func(p *packet.Packet, info *connection.ConnectionInfo) error {
		text, err := decodeText(p)
		if err != nil {
			return err
		}
		packetMsg(out, "%s: %s", info.RemoteEndpoint(), text)
		if !echo {
			return nil
		}
		return replyTo(info, text)
	}
	comms.HandlePacket(messageType, show)
	comms.HandlePacket(packet.TypeUnmanaged, show)

	listeners, err := comms.Listen(kind, endpoints...)
	if err != nil {
		return err
	}
	for _, l := range listeners {
		infoMsg(out, "listening on %s (%s)", l.LocalListenEndpoint(), kind)
		l.OnConnection(func(c *connection.Connection) {
			if c.IsListenerDefault() {
				return
			}
			infoMsg(out, "connection from %s", c.Info().RemoteEndpoint())
			c.OnClose(func(c *connection.Connection, reason connection.CloseReason) {
				infoMsg(out, "%s closed: %s", c.Info().RemoteEndpoint(), reason)
			})
		})
	}

	if reg := comms.Registry(); reg != nil {
		for _, r := range reg.Records() {
			infoMsg(out, "advertised %s %s", r.Kind, r.Endpoint)
		}
	}

	<-ctx.Done()
	infoMsg(out, "shutting down")
	return comms.Shutdown()
}

// replyTo sends text back over the connection a packet arrived on.
func replyTo(info *connection.ConnectionInfo, text string) error {
	l := info.Listener()
	if l == nil {
		return nil
	}
	for _, c := range l.Connections() {
		if c.Info() == info {
			return sendText(c, text)
		}
	}
	return nil
}
