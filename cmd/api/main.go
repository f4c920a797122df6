package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"kisanbazaar/internal/config"
	"kisanbazaar/internal/gateway/app"
	"kisanbazaar/internal/observability"
)

func main() {
	port := flag.String("port", "", "listen address, overrides PORT")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal(err, "failed to load config")
	}
	if *port != "" {
		cfg.Port = *port
	}

	a, err := app.NewWithConfig(context.Background(), cfg)
	if err != nil {
		fatal(err, "failed to initialize app")
	}
	log := a.Logger()

	go func() {
		if err := a.Start(); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}

func fatal(err error, msg string) {
	l := observability.NewLogger(os.Stderr, zerolog.LevelInfoValue, "kisanbazaar-api", "", true)
	l.Fatal().Err(err).Msg(msg)
}
