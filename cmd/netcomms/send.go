package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"

	"github.com/muesli/cancelreader"
	"github.com/urfave/cli/v3"

	"github.com/opd-ai/netcomms/connection"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "connect to a listener and send a message",
		ArgsUsage: "<message>",
		Flags: append(optionFlags(),
			&cli.StringFlag{
				Name:     "to",
				Usage:    "remote endpoint, host:port",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "stdin",
				Usage: "send each line read from stdin",
			},
			&cli.DurationFlag{
				Name:  "dial-timeout",
				Usage: "give up connecting after this long",
				Value: connection.DefaultHandshakeTimeout,
			},
		),
		Action: send,
	}
}

func send(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	if !cmd.Bool("stdin") && cmd.Args().Len() == 0 {
		return fail("nothing to send: pass a message or --stdin")
	}

	comms, kind, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer comms.Shutdown()

	remote, err := parseEndpoint(kind, cmd.String("to"))
	if err != nil {
		return fail("invalid endpoint %q: %w", cmd.String("to"), err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cmd.Duration("dial-timeout"))
	defer cancel()
	conn, err := comms.Connect(dialCtx, kind, remote)
	if err != nil {
		return err
	}
	infoMsg(out, "connected to %s (peer %s)", remote, conn.Info().PeerIdentifier())

	if !cmd.Bool("stdin") {
		return sendText(conn, strings.Join(cmd.Args().Slice(), " "))
	}
	return sendLines(ctx, conn)
}

// sendLines sends stdin line by line until EOF, ctx is cancelled or the
// connection closes.
func sendLines(ctx context.Context, conn *connection.Connection) error {
	in, err := cancelreader.NewReader(os.Stdin)
	if err != nil {
		return fail("open stdin: %w", err)
	}
	defer in.Close()

	go func() {
		select {
		case <-ctx.Done():
		case <-conn.Done():
		}
		in.Cancel()
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := sendText(conn, scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, cancelreader.ErrCanceled) {
		return err
	}
	return nil
}
