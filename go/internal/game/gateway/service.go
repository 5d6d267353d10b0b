package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/mcdev12/evilcards/go/internal/game/manager"
	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/rs/zerolog/log"
)

// Service is the game gateway: WebSocket connections, relay handling and the HTTP endpoints
type Service struct {
	manager    *manager.Manager
	controller *Controller
	router     Router
	relay      *relay.Relay
	health     *HealthChecker
	mux        *httprouter.Router
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates the gateway. store and rel may be nil when the server runs alone.
func NewService(config Config, m *manager.Manager, store *relay.Store, rel *relay.Relay) *Service {
	var (
		router Router
		fwd    Relay
		pinger Pinger
		natsUp ConnectionStatus
	)
	if store != nil {
		router = store
		pinger = store
	}
	if rel != nil {
		fwd = rel
		natsUp = rel
	}

	controller := NewController(m, router, fwd, config.ConnectionConfig)
	s := &Service{
		manager:    m,
		controller: controller,
		router:     router,
		relay:      rel,
		health:     NewHealthChecker(pinger, natsUp, m, controller.Connections()),
		mux:        httprouter.New(),
	}
	s.RegisterRoutes(s.mux)
	return s
}

// Start subscribes to the relay inbox of this server
func (s *Service) Start() error {
	log.Info().Str("server_id", s.manager.ServerID()).Msg("starting game gateway")

	if s.relay == nil {
		return nil
	}
	if err := s.relay.Start(s.controller.RelayHandler()); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return nil
}

// Stop closes every connection, ends the sessions owned here and stops the relay
func (s *Service) Stop(ctx context.Context) error {
	s.controller.Connections().CloseAll(websocket.CloseGoingAway, "server shutting down")

	var errs []error
	if err := s.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().Msg("game gateway stopped")
	return errors.Join(errs...)
}

// Handler returns the router serving every gateway endpoint
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Controller exposes the message controller
func (s *Service) Controller() *Controller {
	return s.controller
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.controller.Connections().GetConnectionStats()
	stats["service"] = "game_gateway"
	stats["server_id"] = s.manager.ServerID()
	stats["sessions"] = s.manager.Count()
	return stats
}
