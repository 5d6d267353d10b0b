package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "evilcards:session:"

// DefaultRouteTTL bounds how long a routing record outlives a crashed owner
const DefaultRouteTTL = 24 * time.Hour

// ErrRouteNotFound is returned when no server advertises a session
var ErrRouteNotFound = errors.New("route not found")

// RedisConfig holds connection settings for the routing store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Store publishes and resolves routing records (session id -> owning server).
// Only set, get and del are issued and each one is logged with its arguments and outcome.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore wraps rdb; ttl <= 0 means DefaultRouteTTL
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func routeKey(sessionID string) string {
	return keyPrefix + sessionID
}

// SetOwner records serverID as the owner of sessionID
func (s *Store) SetOwner(ctx context.Context, sessionID, serverID string) error {
	if err := s.set(ctx, routeKey(sessionID), serverID); err != nil {
		return fmt.Errorf("failed to set owner of session %s: %w", sessionID, err)
	}
	return nil
}

// Owner resolves the server owning sessionID
func (s *Store) Owner(ctx context.Context, sessionID string) (string, error) {
	owner, err := s.get(ctx, routeKey(sessionID))
	if errors.Is(err, redis.Nil) {
		return "", ErrRouteNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get owner of session %s: %w", sessionID, err)
	}
	return owner, nil
}

// DeleteOwner removes the routing record of sessionID
func (s *Store) DeleteOwner(ctx context.Context, sessionID string) error {
	if err := s.del(ctx, routeKey(sessionID)); err != nil {
		return fmt.Errorf("failed to delete owner of session %s: %w", sessionID, err)
	}
	return nil
}

// Ping checks the store is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) set(ctx context.Context, key, value string) error {
	result, err := s.rdb.Set(ctx, key, value, s.ttl).Result()
	logCommand(ctx, "set", []string{key, value, s.ttl.String()}, result, err)
	return err
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	result, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		logCommand(ctx, "get", []string{key}, nil, nil)
		return "", err
	}
	logCommand(ctx, "get", []string{key}, result, err)
	return result, err
}

func (s *Store) del(ctx context.Context, key string) error {
	result, err := s.rdb.Del(ctx, key).Result()
	logCommand(ctx, "del", []string{key}, result, err)
	return err
}

func logCommand(ctx context.Context, command string, args []string, result any, err error) {
	l := ctxlog.From(ctxlog.Component(ctx, "redis"))
	if err != nil {
		l.Error().
			Err(err).
			Str("command", command).
			Strs("args", args).
			Msg("received a redis error")
		return
	}
	l.Info().
		Str("command", command).
		Strs("args", args).
		Interface("result", result).
		Msg("finished redis command")
}
