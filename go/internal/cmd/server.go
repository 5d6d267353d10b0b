package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/mcdev12/evilcards/go/internal/game/gateway"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const shutdownTimeout = 10 * time.Second

func setupServer(cfg *Config, services *Services) *http.Server {
	// Wrap with CORS, then request ids
	handler := gateway.NewCORS(cfg.allowedOrigins).Handler(services.Gateway.Handler())
	handler = ctxlog.Middleware(handler)

	// Setup HTTP/2 server. Websocket upgrades arrive over HTTP/1.1 and pass through h2c.
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func run(ctx context.Context, cfg *Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session loops live until shutdown
	sessionsCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	services, err := setupServices(sessionsCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close services")
		}
	}()

	if err := services.Gateway.Start(); err != nil {
		return err
	}

	server := setupServer(cfg, services)
	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errs:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := services.Gateway.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown failed")
	}
	cancelSessions()

	log.Info().Msg("evilcards shutdown complete")
	return nil
}
