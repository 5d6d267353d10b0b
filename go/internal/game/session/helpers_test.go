package session_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/evilcards/go/internal/game/deck"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type nopSender struct{}

func (nopSender) Send([]byte) error        { return nil }
func (nopSender) Close(int, string) error { return nil }

type recorded struct {
	Type     session.EventType
	PlayerID string
	Diff     any
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) listen(ev session.Event) {
	rec := recorded{Type: ev.Type, Diff: ev.Diff}
	if ev.Player != nil {
		rec.PlayerID = ev.Player.ID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rec)
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func (r *recorder) types() []session.EventType {
	var out []session.EventType
	for _, ev := range r.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) has(t session.EventType) bool {
	for _, ev := range r.all() {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func (r *recorder) last(t session.EventType) (recorded, bool) {
	events := r.all()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == t {
			return events[i], true
		}
	}
	return recorded{}, false
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clockwork.FakeClock
	loop  *session.Loop
	sess  *session.Session
	rec   *recorder
}

func testRules() session.Rules {
	rules := session.DefaultRules()
	rules.SessionEndGrace = 120 * time.Second
	return rules
}

func newHarness(t *testing.T, rules session.Rules) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClock()
	loop := session.NewLoop("test", 64)
	go loop.Run(ctx)

	factory, err := session.NewFactory(rules, deck.Default(),
		session.WithClock(clock),
		session.WithRand(func() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }),
	)
	require.NoError(t, err)

	h := &harness{
		t:     t,
		ctx:   ctx,
		clock: clock,
		loop:  loop,
		sess:  factory.New(loop.Post),
		rec:   &recorder{},
	}
	h.do(func(s *session.Session) { s.Subscribe(h.rec.listen) })
	return h
}

func (h *harness) do(fn func(s *session.Session)) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(h.ctx, func() { fn(h.sess) }))
}

// peek is do without assertions, safe to call from Eventually conditions
func (h *harness) peek(fn func(s *session.Session)) {
	_ = h.loop.Do(h.ctx, func() { fn(h.sess) })
}

func (h *harness) call(fn func(s *session.Session) error) error {
	h.t.Helper()
	var err error
	h.do(func(s *session.Session) { err = fn(s) })
	return err
}

func (h *harness) join(nickname string) string {
	h.t.Helper()
	var (
		p   *session.Player
		err error
	)
	h.do(func(s *session.Session) { p, err = s.Join(nopSender{}, nickname, 1) })
	require.NoError(h.t, err)
	return p.ID
}

func (h *harness) leave(id string) {
	h.t.Helper()
	require.NoError(h.t, h.call(func(s *session.Session) error { return s.Leave(id) }))
}

func (h *harness) state() session.State {
	var st session.State
	h.peek(func(s *session.Session) { st = s.State() })
	return st
}

func (h *harness) round() int {
	var r int
	h.peek(func(s *session.Session) { r = s.Round() })
	return r
}

func (h *harness) views() map[string]session.PlayerView {
	out := make(map[string]session.PlayerView)
	h.do(func(s *session.Session) {
		for _, p := range s.Players() {
			out[p.ID] = p.View()
		}
	})
	return out
}

func (h *harness) master() string {
	var id string
	h.do(func(s *session.Session) {
		for _, p := range s.Players() {
			if p.Master {
				id = p.ID
			}
		}
	})
	return id
}

func (h *harness) host() string {
	var id string
	h.do(func(s *session.Session) {
		for _, p := range s.Players() {
			if p.Host {
				id = p.ID
			}
		}
	})
	return id
}

func (h *harness) snapshot(id string) session.Snapshot {
	var snap session.Snapshot
	h.do(func(s *session.Session) { snap = s.Snapshot(id) })
	return snap
}

// hand reads a player's cards, including the master's
func (h *harness) hand(id string) []string {
	var cards []string
	h.do(func(s *session.Session) {
		if p, ok := s.Player(id); ok {
			cards = p.Hand()
		}
	})
	return cards
}

func (h *harness) waitState(want session.State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.state() == want }, waitFor, tick)
}

func (h *harness) waitRound(want int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.round() == want }, waitFor, tick)
}

// startGame joins the given nicknames, starts the game as the first one and
// waits for the first round. It returns the player ids in join order.
func (h *harness) startGame(nicknames ...string) []string {
	h.t.Helper()
	ids := make([]string, 0, len(nicknames))
	for _, n := range nicknames {
		ids = append(ids, h.join(n))
	}
	require.NoError(h.t, h.call(func(s *session.Session) error { return s.StartGame(ids[0]) }))
	h.clock.Advance(h.sess.Rules().StartDelay)
	h.waitState(session.StateChoosing)
	return ids
}

// submitAll plays the first card of every connected non-master that has not
// submitted yet and returns what each played
func (h *harness) submitAll() map[string]string {
	h.t.Helper()
	played := make(map[string]string)
	var errs []error
	h.do(func(s *session.Session) {
		for _, p := range s.Players() {
			if p.Master || p.Disconnected || p.Voted {
				continue
			}
			card := p.Hand()[0]
			played[p.ID] = card
			errs = append(errs, s.SubmitCard(p.ID, card))
		}
	})
	for _, err := range errs {
		require.NoError(h.t, err)
	}
	return played
}

// submissionOf finds the id of the submission showing card
func (h *harness) submissionOf(card string) string {
	h.t.Helper()
	var id string
	h.do(func(s *session.Session) {
		for _, v := range s.Votes() {
			if v.Text == card {
				id = v.ID
			}
		}
	})
	require.NotEmpty(h.t, id, "no submission for %q", card)
	return id
}

// playRound submits every hand and lets the master pick winner's card
func (h *harness) playRound(winner string) {
	h.t.Helper()
	played := h.submitAll()
	require.Equal(h.t, session.StateVoting, h.state())
	sub := h.submissionOf(played[winner])
	master := h.master()
	require.NoError(h.t, h.call(func(s *session.Session) error { return s.Vote(master, sub) }))
}
