// Command netcomms listens for and sends netcomms packets from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		errorMsg(os.Stderr, "%s", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "netcomms",
		Usage: "listen for and send netcomms packets",
		Commands: []*cli.Command{
			listenCommand(),
			sendCommand(),
			versionCommand(),
		},
	}
}

// fail wraps an error for the console.
func fail(format string, a ...interface{}) error {
	return fmt.Errorf(format, a...)
}
