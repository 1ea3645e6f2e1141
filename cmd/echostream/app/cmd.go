// Package app holds the echostream command line.
package app

import (
	"context"

	"echostream/logging"

	"github.com/urfave/cli/v2"
)

func Instance() *cli.App {
	loglevel := "info"
	return &cli.App{
		Name:  "echostream",
		Usage: "Bidirectional RPC, event and stream runtime",
		Commands: []*cli.Command{
			serveCmd(),
			callCmd(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{logging.EnvLogLevel},
				Destination: &loglevel,
				Value:       loglevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			logging.Configure(logging.Options{
				Level:  loglevel,
				Pretty: true,
				App:    "echostream",
				Out:    ctx.App.ErrWriter,
			})
			return nil
		},
	}
}

func Run(ctx context.Context, args []string) error {
	return Instance().RunContext(ctx, args)
}
