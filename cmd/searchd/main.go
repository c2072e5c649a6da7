package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// .env is optional
	_ = godotenv.Load()

	if err := App().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("searchd failed")
	}
}
