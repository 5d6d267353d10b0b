package session

import (
	"encoding/base32"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/evilcards/go/internal/game/deck"
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSessionID returns a short url-safe session identifier
func NewSessionID() string {
	id := uuid.New()
	return strings.ToLower(idEncoding.EncodeToString(id[:]))
}

// Factory builds sessions that share rules, deck and clock
type Factory struct {
	rules     Rules
	cards     *deck.Deck
	clock     clockwork.Clock
	newRand   func() *rand.Rand
	sessionID func() string
	playerID  func() string
}

// Option customizes a Factory
type Option func(*Factory)

// WithClock replaces the real clock, mostly for tests
func WithClock(c clockwork.Clock) Option {
	return func(f *Factory) { f.clock = c }
}

// WithRand replaces the per-session random source
func WithRand(newRand func() *rand.Rand) Option {
	return func(f *Factory) { f.newRand = newRand }
}

// WithIDs replaces the session and player id generators
func WithIDs(sessionID, playerID func() string) Option {
	return func(f *Factory) {
		f.sessionID = sessionID
		f.playerID = playerID
	}
}

// NewFactory validates rules against the deck and returns a Factory
func NewFactory(rules Rules, cards *deck.Deck, opts ...Option) (*Factory, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	if err := cards.Validate(rules.MaxPlayers, rules.HandSize); err != nil {
		return nil, fmt.Errorf("invalid deck: %w", err)
	}

	f := &Factory{
		rules: rules,
		cards: cards,
		clock: clockwork.NewRealClock(),
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		sessionID: NewSessionID,
		playerID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Rules returns the rules every new session gets
func (f *Factory) Rules() Rules {
	return f.rules
}

// New creates an empty session in the waiting state. post must enqueue work
// on the loop that owns the session; timers fire through it.
func (f *Factory) New(post Poster) *Session {
	return &Session{
		id:         f.sessionID(),
		state:      StateWaiting,
		rules:      f.rules,
		cards:      f.cards,
		clock:      f.clock,
		rnd:        f.newRand(),
		post:       post,
		newID:      f.playerID,
		phaseTimer: timerSlot{name: "phase"},
		endTimer:   timerSlot{name: "session_end"},
	}
}
