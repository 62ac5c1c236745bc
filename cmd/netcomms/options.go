package main

import (
	"io"
	"net"

	"github.com/urfave/cli/v3"

	"github.com/opd-ai/netcomms"
	"github.com/opd-ai/netcomms/connection"
	"github.com/opd-ai/netcomms/logging"
)

// optionFlags are shared by every command that creates a Comms instance.
func optionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML options file",
		},
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"t"},
			Usage:   "transport: tcp, udp, kcp or ws",
			Value:   "tcp",
		},
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "disable the application layer protocol",
		},
		&cli.BoolFlag{
			Name:  "compress",
			Usage: "compress payloads with zstd",
		},
		&cli.StringFlag{
			Name:  "psk",
			Usage: "encrypt payloads with a pre-shared key",
		},
		&cli.BoolFlag{
			Name:  "datagram-handshake",
			Usage: "run the peer-info handshake over udp",
		},
		&cli.DurationFlag{
			Name:  "handshake-timeout",
			Usage: "how long to wait for the peer's handshake",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "write logs to this file instead of stderr",
		},
	}
}

// buildOptions loads the options file, if any, and applies flags on top.
func buildOptions(cmd *cli.Command) (*netcomms.Options, error) {
	opts := netcomms.NewOptions()
	if path := cmd.String("config"); path != "" {
		loaded, err := netcomms.LoadOptions(path)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	if cmd.IsSet("raw") {
		opts.ApplicationLayerProtocol = !cmd.Bool("raw")
	}
	if cmd.IsSet("compress") {
		opts.Compress = cmd.Bool("compress")
	}
	if cmd.IsSet("psk") {
		opts.PreSharedKey = cmd.String("psk")
	}
	if cmd.IsSet("datagram-handshake") {
		opts.DatagramHandshake = cmd.Bool("datagram-handshake")
	}
	if cmd.IsSet("handshake-timeout") {
		opts.HandshakeTimeout = cmd.Duration("handshake-timeout")
	}
	if cmd.IsSet("no-failover") {
		opts.AllowPortFailover = !cmd.Bool("no-failover")
	}
	if cmd.IsSet("discoverable") {
		opts.AllowDiscoverable = cmd.Bool("discoverable")
	}
	if cmd.IsSet("log-level") {
		opts.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-file") {
		opts.LogFile = cmd.String("log-file")
	}
	return opts, opts.Validate()
}

// setup builds the options, configures logging and creates the Comms instance.
func setup(cmd *cli.Command) (*netcomms.Comms, connection.TransportKind, io.Closer, error) {
	kind, err := connection.ParseTransportKind(cmd.String("transport"))
	if err != nil {
		return nil, 0, nil, err
	}
	opts, err := buildOptions(cmd)
	if err != nil {
		return nil, 0, nil, err
	}
	closer, err := logging.Configure(opts.LogLevel, opts.LogFile)
	if err != nil {
		return nil, 0, nil, err
	}
	comms, err := netcomms.New(opts)
	if err != nil {
		closer.Close()
		return nil, 0, nil, err
	}
	return comms, kind, closer, nil
}

// parseEndpoint resolves host:port for the transport's address family.
func parseEndpoint(kind connection.TransportKind, s string) (net.Addr, error) {
	if kind == connection.Datagram || kind == connection.ReliableDatagram {
		return net.ResolveUDPAddr("udp", s)
	}
	return net.ResolveTCPAddr("tcp", s)
}
