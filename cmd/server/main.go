package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/hub"
	"github.com/pairlink/pairlink/internal/relay"
	"github.com/pairlink/pairlink/internal/server"
)

func main() {
	var listenAddr string
	flag.StringVar(&listenAddr, "listen", "", "listen address (overrides LISTEN_ADDR)")
	flag.Parse()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Logger()

	cfg := config.Load(config.Options{ListenAddr: listenAddr})

	h := hub.New(relay.DefaultPolicy(), cfg.MatchTimeout, l)
	r := server.NewRouter(h)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		l.Info().Str("addr", cfg.ListenAddr).Msg("Starting signaling server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
	l.Info().Msg("Server exited")
}
