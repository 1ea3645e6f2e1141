package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"echostream/cmd/echostream/app"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("echostream failed")
	}
}
