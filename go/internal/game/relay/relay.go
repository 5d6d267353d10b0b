package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRelayTimeout is returned when the owning server does not reply in time
	ErrRelayTimeout = errors.New("relay timeout")
	// ErrRelayClosed is returned once the relay is stopped
	ErrRelayClosed = errors.New("relay closed")
)

// RemoteError carries the wire error code returned by the owning server
type RemoteError struct {
	Code string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Code
}

// Handler reacts to frames addressed to this server
type Handler interface {
	// HandleRequest runs a forwarded client message and returns a wire error code, empty on success
	HandleRequest(ctx context.Context, f Frame) string
	// HandleDeliver pushes f.Payload to the local connection f.ConnID
	HandleDeliver(f Frame)
	// HandleClose closes the local connection f.ConnID
	HandleClose(f Frame)
	// HandleDisconnect drops the player bound to the remote connection f.ConnID
	HandleDisconnect(ctx context.Context, f Frame)
}

// Config holds relay settings
type Config struct {
	// Subject is the prefix of every server's inbox; the inbox is Subject.ServerID
	Subject  string
	ServerID string
	Timeout  time.Duration
}

// DefaultConfig returns the relay defaults
func DefaultConfig() Config {
	return Config{
		Subject:  "evilcards.relay",
		ServerID: "1",
		Timeout:  5 * time.Second,
	}
}

// Relay exchanges frames between servers over NATS.
// Requests are matched to replies by correlation id and bounded by Config.Timeout.
type Relay struct {
	nc     *nats.Conn
	config Config

	mu      sync.Mutex
	pending map[string]chan Frame
	sub     *nats.Subscription
	done    chan struct{}
	once    sync.Once
}

// New creates a relay on an established NATS connection
func New(nc *nats.Conn, config Config) *Relay {
	return &Relay{
		nc:      nc,
		config:  config,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
}

// ServerID returns the identity this relay answers to
func (r *Relay) ServerID() string {
	return r.config.ServerID
}

// Connected reports whether the NATS connection is up
func (r *Relay) Connected() bool {
	return r.nc.IsConnected()
}

func (r *Relay) inbox(serverID string) string {
	return r.config.Subject + "." + serverID
}

// Start subscribes to this server's inbox. Frames are handled in arrival order.
func (r *Relay) Start(h Handler) error {
	sub, err := r.nc.Subscribe(r.inbox(r.config.ServerID), func(msg *nats.Msg) {
		r.dispatch(h, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to relay inbox: %w", err)
	}
	if err := r.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("flush relay subscription: %w", err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	log.Info().
		Str("subject", sub.Subject).
		Str("server_id", r.config.ServerID).
		Msg("relay started")
	return nil
}

// Stop unsubscribes and fails every pending request with ErrRelayClosed
func (r *Relay) Stop() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		r.mu.Lock()
		sub := r.sub
		r.sub = nil
		r.mu.Unlock()
		if sub != nil {
			err = sub.Unsubscribe()
		}
		log.Info().Str("server_id", r.config.ServerID).Msg("relay stopped")
	})
	return err
}

func (r *Relay) dispatch(h Handler, msg *nats.Msg) {
	var f Frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode relay frame")
		return
	}

	ctx := ctxlog.With(context.Background(), "from_server", f.From)
	if f.CorrelationID != "" {
		ctx = ctxlog.WithRequestID(ctx, f.CorrelationID)
	}

	switch f.Kind {
	case KindRequest:
		code := h.HandleRequest(ctx, f)
		reply := Frame{
			Kind:          KindReply,
			CorrelationID: f.CorrelationID,
			ConnID:        f.ConnID,
			SessionID:     f.SessionID,
			Error:         code,
		}
		if err := r.publish(ctx, f.From, reply); err != nil {
			ctxlog.From(ctx).Error().Err(err).Msg("failed to publish relay reply")
		}
	case KindReply:
		r.resolve(f)
	case KindDeliver:
		h.HandleDeliver(f)
	case KindClose:
		h.HandleClose(f)
	case KindDisconnect:
		h.HandleDisconnect(ctx, f)
	default:
		ctxlog.From(ctx).Warn().Str("kind", string(f.Kind)).Msg("unknown relay frame kind")
	}
}

func (r *Relay) resolve(f Frame) {
	r.mu.Lock()
	ch, ok := r.pending[f.CorrelationID]
	delete(r.pending, f.CorrelationID)
	r.mu.Unlock()

	if !ok {
		log.Debug().Str("correlation_id", f.CorrelationID).Msg("dropping late relay reply")
		return
	}
	ch <- f
}

func (r *Relay) publish(ctx context.Context, serverID string, f Frame) error {
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}

	f.From = r.config.ServerID
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	if err := r.nc.Publish(r.inbox(serverID), data); err != nil {
		return fmt.Errorf("publish relay frame: %w", err)
	}

	ctxlog.From(ctx).Debug().
		Str("kind", string(f.Kind)).
		Str("to_server", serverID).
		Str("conn_id", f.ConnID).
		Msg("relay frame sent")
	return nil
}

// Forward sends a client message to the owning server and waits for its reply.
// A non-empty reply code is returned as *RemoteError.
func (r *Relay) Forward(ctx context.Context, serverID, connID, sessionID string, payload []byte) error {
	id := uuid.NewString()
	ch := make(chan Frame, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	f := Frame{
		Kind:          KindRequest,
		CorrelationID: id,
		ConnID:        connID,
		SessionID:     sessionID,
		Payload:       payload,
	}
	if err := r.publish(ctx, serverID, f); err != nil {
		return err
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return &RemoteError{Code: reply.Error}
		}
		return nil
	case <-r.done:
		return ErrRelayClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			ctxlog.From(ctx).Warn().
				Str("to_server", serverID).
				Str("correlation_id", id).
				Dur("timeout", r.config.Timeout).
				Msg("relay request timed out")
			return ErrRelayTimeout
		}
		return ctx.Err()
	}
}

// Deliver pushes an outbound message to a connection held by serverID
func (r *Relay) Deliver(serverID, connID string, payload []byte) error {
	return r.publish(context.Background(), serverID, Frame{
		Kind:    KindDeliver,
		ConnID:  connID,
		Payload: payload,
	})
}

// Close asks serverID to close one of its connections
func (r *Relay) Close(serverID, connID string, code int, reason string) error {
	return r.publish(context.Background(), serverID, Frame{
		Kind:   KindClose,
		ConnID: connID,
		Code:   code,
		Reason: reason,
	})
}

// Disconnect tells the owner of sessionID that a relayed connection went away
func (r *Relay) Disconnect(ctx context.Context, serverID, connID, sessionID string) error {
	return r.publish(ctx, serverID, Frame{
		Kind:      KindDisconnect,
		ConnID:    connID,
		SessionID: sessionID,
	})
}
