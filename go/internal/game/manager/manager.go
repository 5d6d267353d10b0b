package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/rs/zerolog/log"
)

const loopBuffer = 64

// ErrSessionNotFound is returned when this server does not own the session
var ErrSessionNotFound = errors.New("session not found")

// RouteStore publishes which server owns a session
type RouteStore interface {
	SetOwner(ctx context.Context, sessionID, serverID string) error
	DeleteOwner(ctx context.Context, sessionID string) error
}

// Entry is a session together with the loop that serializes access to it
type Entry struct {
	Session *session.Session
	Loop    *session.Loop
}

// Do runs fn on the session's loop and waits for it
func (e *Entry) Do(ctx context.Context, fn func(s *session.Session)) error {
	return e.Loop.Do(ctx, func() { fn(e.Session) })
}

// Manager is the directory of sessions owned by this server
type Manager struct {
	factory   *session.Factory
	store     RouteStore
	serverID  string
	ctx       context.Context
	listeners []session.Listener

	mu       sync.RWMutex
	sessions map[string]*Entry
}

// New creates a manager. Session loops live until ctx is cancelled or the session ends.
// listeners are subscribed to every session the manager creates.
func New(ctx context.Context, factory *session.Factory, store RouteStore, serverID string, listeners ...session.Listener) *Manager {
	return &Manager{
		factory:   factory,
		store:     store,
		serverID:  serverID,
		ctx:       ctx,
		listeners: listeners,
		sessions:  make(map[string]*Entry),
	}
}

// ServerID returns the identity written into routing records
func (m *Manager) ServerID() string {
	return m.serverID
}

// Subscribe adds a listener for sessions created from now on
func (m *Manager) Subscribe(l session.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Create builds a session, starts its loop and advertises this server as its owner
func (m *Manager) Create(ctx context.Context) (*Entry, error) {
	var loop *session.Loop
	s := m.factory.New(func(task func()) bool { return loop.Post(task) })
	loop = session.NewLoop(s.ID(), loopBuffer)
	entry := &Entry{Session: s, Loop: loop}

	m.mu.Lock()
	if _, exists := m.sessions[s.ID()]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session id collision: %s", s.ID())
	}
	for _, l := range m.listeners {
		s.Subscribe(l)
	}
	s.Subscribe(func(ev session.Event) {
		if ev.Type == session.EventSessionEnd {
			go m.dispose(ev.Session.ID())
		}
	})
	m.sessions[s.ID()] = entry
	m.mu.Unlock()

	go loop.Run(m.ctx)

	if err := m.store.SetOwner(ctx, s.ID(), m.serverID); err != nil {
		m.remove(s.ID())
		return nil, fmt.Errorf("failed to advertise session: %w", err)
	}

	ctxlog.From(ctx).Info().
		Str("session_id", s.ID()).
		Str("server_id", m.serverID).
		Msg("session created")
	return entry, nil
}

// Get returns a session owned by this server
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// Delete stops the session's loop, forgets it and clears its routing record
func (m *Manager) Delete(ctx context.Context, id string) error {
	if !m.remove(id) {
		return ErrSessionNotFound
	}
	if err := m.store.DeleteOwner(ctx, id); err != nil {
		return fmt.Errorf("failed to clear route of session %s: %w", id, err)
	}

	ctxlog.From(ctx).Info().Str("session_id", id).Msg("session deleted")
	return nil
}

func (m *Manager) remove(id string) bool {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		entry.Loop.Stop()
	}
	return ok
}

func (m *Manager) dispose(id string) {
	if err := m.Delete(context.Background(), id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		log.Error().Err(err).Str("session_id", id).Msg("failed to dispose ended session")
	}
}

// Count returns the number of sessions owned by this server
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown deletes every session, clearing their routing records
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Delete(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}

	log.Info().Int("sessions", len(ids)).Msg("session manager shut down")
	return errors.Join(errs...)
}
