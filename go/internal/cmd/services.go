package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/evilcards/go/internal/game/gateway"
	"github.com/mcdev12/evilcards/go/internal/game/manager"
	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Redis   *redis.Client
	NATS    *nats.Conn
	Gateway *gateway.Service
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Redis/NATS → Store/Relay → Factory → Manager → Gateway

	cards, err := cfg.loadDeck()
	if err != nil {
		return nil, err
	}
	factory, err := session.NewFactory(cfg.rules(), cards)
	if err != nil {
		return nil, fmt.Errorf("invalid game rules: %w", err)
	}

	rdb, err := relay.NewRedisClient(ctx, cfg.redisConfig())
	if err != nil {
		return nil, err
	}
	store := relay.NewStore(rdb, relay.DefaultRouteTTL)

	services := &Services{Redis: rdb}

	var rel *relay.Relay
	if cfg.natsURL != "" {
		nc, err := relay.DialNATS(cfg.natsConfig())
		if err != nil {
			rdb.Close()
			return nil, err
		}
		services.NATS = nc
		rel = relay.New(nc, cfg.relayConfig())
	} else {
		log.Warn().Msg("no NATS url configured, sessions owned by other servers are unreachable")
	}

	mgr := manager.New(ctx, factory, store, cfg.serverNumber)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.CheckOrigin = gateway.CheckOrigin(cfg.allowedOrigins)
	services.Gateway = gateway.NewService(gatewayConfig, mgr, store, rel)

	log.Info().
		Str("redis_addr", cfg.redisAddr).
		Str("nats_url", cfg.natsURL).
		Int("deck_red", len(cards.Red)).
		Int("deck_white", len(cards.White)).
		Msg("services ready")
	return services, nil
}

// Close releases the connections opened by setupServices
func (s *Services) Close() error {
	var errs []error
	if s.NATS != nil {
		if err := s.NATS.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain NATS: %w", err))
		}
	}
	if err := s.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	return errors.Join(errs...)
}
