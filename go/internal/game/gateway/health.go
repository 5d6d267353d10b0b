package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/evilcards/go/internal/game/manager"
)

// HealthStatus describes this server and its dependencies
type HealthStatus struct {
	Healthy        bool
	RedisConnected bool
	NATSConnected  bool
	Sessions       int
	Connections    int
	Errors         []string
}

// Pinger is satisfied by the routing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionStatus is satisfied by the relay
type ConnectionStatus interface {
	Connected() bool
}

// HealthChecker reports readiness. Redis and NATS are optional in single-server mode.
type HealthChecker struct {
	redis       Pinger
	nats        ConnectionStatus
	manager     *manager.Manager
	connections *ConnectionManager
}

func NewHealthChecker(redis Pinger, nats ConnectionStatus, m *manager.Manager, cm *ConnectionManager) *HealthChecker {
	return &HealthChecker{
		redis:       redis,
		nats:        nats,
		manager:     m,
		connections: cm,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:     true,
		Sessions:    h.manager.Count(),
		Connections: h.connections.Count(),
		Errors:      []string{},
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("redis ping failed: %v", err))
		} else {
			status.RedisConnected = true
		}
	}

	if h.nats != nil {
		status.NATSConnected = h.nats.Connected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	response := map[string]interface{}{
		"healthy":         status.Healthy,
		"redis_connected": status.RedisConnected,
		"nats_connected":  status.NATSConnected,
		"sessions":        status.Sessions,
		"connections":     status.Connections,
		"errors":          status.Errors,
	}

	w.Header().Set("Content-Type", "application/json")

	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}
