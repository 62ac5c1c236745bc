package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprintln(cmd.Root().Writer, Version)
			return nil
		},
	}
}
