package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/mcdev12/evilcards/go/internal/game/manager"
	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/rs/zerolog/log"
)

var errAlreadyAttached = errors.New("connection already joined a session")

// Router resolves which server owns a session
type Router interface {
	Owner(ctx context.Context, sessionID string) (string, error)
}

// Relay reaches connections and sessions held by other servers
type Relay interface {
	ServerID() string
	Forward(ctx context.Context, serverID, connID, sessionID string, payload []byte) error
	Deliver(serverID, connID string, payload []byte) error
	Close(serverID, connID string, code int, reason string) error
	Disconnect(ctx context.Context, serverID, connID, sessionID string) error
}

// binding ties a connection, local or relayed, to a player of a session owned here
type binding struct {
	sessionID string
	playerID  string
	sender    session.Sender
}

// Controller turns client messages into session operations and session events into client messages.
// Sessions owned by another server are reached through the relay.
type Controller struct {
	manager     *manager.Manager
	router      Router
	relay       Relay
	connections *ConnectionManager

	mu       sync.Mutex
	bindings map[string]binding
}

// NewController wires a controller to the session manager.
// router and relay may be nil when the server runs alone.
func NewController(m *manager.Manager, router Router, r Relay, config ConnectionConfig) *Controller {
	c := &Controller{
		manager:  m,
		router:   router,
		relay:    r,
		bindings: make(map[string]binding),
	}
	c.connections = NewConnectionManager(config, c)
	m.Subscribe(c.listen)
	return c
}

// Connections returns the connection manager of this server
func (c *Controller) Connections() *ConnectionManager {
	return c.connections
}

func (c *Controller) serverID() string {
	return c.manager.ServerID()
}

// HandleMessage implements ConnectionHandler
func (c *Controller) HandleMessage(conn *Connection, raw []byte) {
	ctx := conn.Context()

	msg, err := Decode(raw)
	if err != nil {
		ctxlog.From(ctx).Debug().Err(err).Msg("rejected client message")
		_ = conn.Send(encodeError(CodeInvalidMessage))
		return
	}
	if _, ok := msg.(*PingMessage); ok {
		_ = conn.Send(pongMessage)
		return
	}

	if err := c.dispatch(ctx, conn, msg, raw); err != nil {
		code := errorCode(err)
		event := ctxlog.From(ctx).Debug()
		if code == CodeInternal {
			event = ctxlog.From(ctx).Error()
		}
		event.Err(err).Str("code", code).Msg("client message failed")
		_ = conn.Send(encodeError(code))
	}
}

func (c *Controller) dispatch(ctx context.Context, conn *Connection, msg Message, raw []byte) error {
	sessionID, owner := conn.route()

	switch m := msg.(type) {
	case *CreateMessage:
		if sessionID != "" {
			return errAlreadyAttached
		}
		return c.create(ctx, conn, m)
	case *JoinMessage:
		if sessionID != "" {
			return errAlreadyAttached
		}
		return c.join(ctx, conn, m, raw)
	}

	if sessionID == "" {
		return errNotAttached
	}
	if owner == c.serverID() {
		return c.execute(ctx, conn.ID, conn, msg)
	}
	if c.relay == nil {
		return manager.ErrSessionNotFound
	}
	return c.relay.Forward(ctx, owner, conn.ID, sessionID, raw)
}

func (c *Controller) create(ctx context.Context, conn *Connection, m *CreateMessage) error {
	entry, err := c.manager.Create(ctx)
	if err != nil {
		return err
	}

	id := entry.Session.ID()
	if err := c.joinEntry(ctx, entry, conn.ID, conn, m.Nickname, m.AvatarID, TypeCreate); err != nil {
		if derr := c.manager.Delete(ctx, id); derr != nil {
			ctxlog.From(ctx).Error().Err(derr).Str("session_id", id).Msg("failed to delete abandoned session")
		}
		return err
	}
	conn.attach(id, c.serverID())
	return nil
}

func (c *Controller) join(ctx context.Context, conn *Connection, m *JoinMessage, raw []byte) error {
	if entry, err := c.manager.Get(m.SessionID); err == nil {
		if err := c.joinEntry(ctx, entry, conn.ID, conn, m.Nickname, m.AvatarID, TypeJoin); err != nil {
			return err
		}
		conn.attach(m.SessionID, c.serverID())
		return nil
	}

	if c.router == nil || c.relay == nil {
		return manager.ErrSessionNotFound
	}
	owner, err := c.router.Owner(ctx, m.SessionID)
	if errors.Is(err, relay.ErrRouteNotFound) {
		return err
	}
	if err != nil {
		ctxlog.From(ctx).Error().Err(err).Str("session_id", m.SessionID).Msg("failed to look up session owner")
		return fmt.Errorf("%w: %w", manager.ErrSessionNotFound, err)
	}
	if owner == c.serverID() {
		// stale route left behind by a previous run of this server
		return manager.ErrSessionNotFound
	}

	if err := c.relay.Forward(ctx, owner, conn.ID, m.SessionID, raw); err != nil {
		return err
	}
	conn.attach(m.SessionID, owner)

	ctxlog.From(ctx).Info().
		Str("session_id", m.SessionID).
		Str("owner", owner).
		Msg("joined remote session")
	return nil
}

// joinEntry adds a player to a local session and sends it the session snapshot
func (c *Controller) joinEntry(ctx context.Context, entry *manager.Entry, connID string, sender session.Sender, nickname string, avatarID int, msgType string) error {
	var joinErr error
	err := entry.Do(ctx, func(s *session.Session) {
		p, err := s.Join(sender, nickname, avatarID)
		if err != nil {
			joinErr = err
			return
		}
		c.bind(connID, binding{sessionID: s.ID(), playerID: p.ID, sender: sender})

		payload, err := encodeState(msgType, s.Snapshot(p.ID))
		if err != nil {
			joinErr = err
			return
		}
		if err := sender.Send(payload); err != nil {
			ctxlog.From(ctx).Warn().Err(err).Str("player_id", p.ID).Msg("failed to send session snapshot")
		}
	})
	if err != nil {
		return err
	}
	return joinErr
}

// execute runs a client message against a session owned by this server
func (c *Controller) execute(ctx context.Context, connID string, sender session.Sender, msg Message) error {
	if m, ok := msg.(*JoinMessage); ok {
		entry, err := c.manager.Get(m.SessionID)
		if err != nil {
			return err
		}
		return c.joinEntry(ctx, entry, connID, sender, m.Nickname, m.AvatarID, TypeJoin)
	}

	b, ok := c.binding(connID)
	if !ok {
		return errNotAttached
	}
	entry, err := c.manager.Get(b.sessionID)
	if err != nil {
		return err
	}

	var opErr error
	err = entry.Do(ctx, func(s *session.Session) {
		switch m := msg.(type) {
		case *StartGameMessage:
			opErr = s.StartGame(b.playerID)
		case *SubmitCardMessage:
			opErr = s.SubmitCard(b.playerID, m.Card)
		case *VoteMessage:
			opErr = s.Vote(b.playerID, m.SubmissionID)
		case *RestartMessage:
			opErr = s.Restart(b.playerID)
		case *KickMessage:
			_, opErr = s.Kick(b.playerID, m.PlayerID)
		default:
			opErr = ErrInvalidMessage
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// drop makes the player bound to connID leave its session
func (c *Controller) drop(ctx context.Context, connID string) {
	b, ok := c.unbind(connID)
	if !ok {
		return
	}
	entry, err := c.manager.Get(b.sessionID)
	if err != nil {
		return
	}

	err = entry.Do(ctx, func(s *session.Session) {
		p, ok := s.Player(b.playerID)
		// the player may already be playing from a newer connection
		if !ok || p.Sender != b.sender {
			return
		}
		if err := s.Leave(p.ID); err != nil {
			ctxlog.From(ctx).Warn().Err(err).Str("player_id", p.ID).Msg("failed to leave session")
		}
	})
	if err != nil && !errors.Is(err, session.ErrSessionClosed) {
		ctxlog.From(ctx).Error().Err(err).Str("session_id", b.sessionID).Msg("failed to drop player")
	}
}

// HandleClose implements ConnectionHandler
func (c *Controller) HandleClose(conn *Connection, graceful bool) {
	ctx := conn.Context()
	sessionID, owner := conn.route()

	ctxlog.From(ctx).Info().
		Bool("graceful", graceful).
		Str("session_id", sessionID).
		Msg("websocket connection closed")

	if sessionID == "" {
		return
	}
	if owner == c.serverID() {
		c.drop(ctx, conn.ID)
		return
	}
	if c.relay != nil {
		if err := c.relay.Disconnect(ctx, owner, conn.ID, sessionID); err != nil {
			ctxlog.From(ctx).Error().Err(err).Str("owner", owner).Msg("failed to relay disconnect")
		}
	}
}

// listen fans session events out to the players. It runs on the session loop.
func (c *Controller) listen(ev session.Event) {
	switch ev.Type {
	case session.EventSessionEnd:
		return
	case session.EventKick:
		c.kick(ev.Session.ID(), ev.Player)
	}

	msgType := outboundType(ev.Type)
	personal, isPersonal := ev.Diff.(session.PersonalDiff)
	var shared []byte

	// the joining player gets a snapshot instead, a leaving or kicked one gets nothing
	var skip string
	switch ev.Type {
	case session.EventJoin, session.EventLeave, session.EventKick:
		if ev.Player != nil {
			skip = ev.Player.ID
		}
	}

	for _, p := range ev.Session.Players() {
		if p.Disconnected || p.Sender == nil || p.ID == skip {
			continue
		}

		var payload []byte
		var err error
		switch {
		case isPersonal:
			payload, err = encodeState(msgType, personal.For(p))
		case shared == nil:
			shared, err = encodeState(msgType, ev.Diff)
			payload = shared
		default:
			payload = shared
		}
		if err != nil {
			log.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to encode session event")
			return
		}

		if err := p.Sender.Send(payload); err != nil {
			log.Debug().
				Err(err).
				Str("session_id", ev.Session.ID()).
				Str("player_id", p.ID).
				Msg("failed to send session event")
		}
	}
}

func (c *Controller) kick(sessionID string, target *session.Player) {
	if target.Sender != nil {
		_ = target.Sender.Send(encodeError(CodeKicked))
		_ = target.Sender.Close(CloseKicked, ReasonKicked)
	}
	if conn, ok := target.Sender.(*Connection); ok {
		conn.detach()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for connID, b := range c.bindings {
		if b.sessionID == sessionID && b.playerID == target.ID {
			delete(c.bindings, connID)
		}
	}
}

func (c *Controller) bind(connID string, b binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[connID] = b
}

func (c *Controller) unbind(connID string) (binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bindings[connID]
	delete(c.bindings, connID)
	return b, ok
}

func (c *Controller) binding(connID string) (binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bindings[connID]
	return b, ok
}

// RelayHandler returns the handler answering frames sent by other servers
func (c *Controller) RelayHandler() relay.Handler {
	return relayHandler{c}
}

type relayHandler struct {
	c *Controller
}

func (h relayHandler) HandleRequest(ctx context.Context, f relay.Frame) string {
	msg, err := Decode(f.Payload)
	if err != nil {
		return CodeInvalidMessage
	}

	sender := remoteSender{relay: h.c.relay, serverID: f.From, connID: f.ConnID}
	if err := h.c.execute(ctx, f.ConnID, sender, msg); err != nil {
		code := errorCode(err)
		ctxlog.From(ctx).Debug().Err(err).Str("code", code).Str("conn_id", f.ConnID).Msg("relayed message failed")
		return code
	}
	return ""
}

func (h relayHandler) HandleDeliver(f relay.Frame) {
	conn, ok := h.c.connections.Get(f.ConnID)
	if !ok {
		log.Debug().Str("conn_id", f.ConnID).Msg("dropping delivery for unknown connection")
		return
	}
	_ = conn.Send(f.Payload)
}

func (h relayHandler) HandleClose(f relay.Frame) {
	conn, ok := h.c.connections.Get(f.ConnID)
	if !ok {
		return
	}
	_ = conn.Close(f.Code, f.Reason)
}

func (h relayHandler) HandleDisconnect(ctx context.Context, f relay.Frame) {
	h.c.drop(ctx, f.ConnID)
}

// remoteSender reaches a connection held by another server
type remoteSender struct {
	relay    Relay
	serverID string
	connID   string
}

func (s remoteSender) Send(payload []byte) error {
	return s.relay.Deliver(s.serverID, s.connID, payload)
}

func (s remoteSender) Close(code int, reason string) error {
	return s.relay.Close(s.serverID, s.connID, code, reason)
}
