package session

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/evilcards/go/internal/game/deck"
	"github.com/rs/zerolog/log"
)

// State is the phase a session is in
type State string

const (
	StateWaiting  State = "waiting"
	StateStarting State = "starting"
	StateChoosing State = "choosing"
	StateVoting   State = "voting"
	StateEnd      State = "end"
)

// Playing reports whether st is one of the in-game phases.
// Players who leave during these phases are kept as disconnected.
func (st State) Playing() bool {
	return st == StateStarting || st == StateChoosing || st == StateVoting
}

// Poster enqueues work on the loop that owns a session
type Poster func(task func()) bool

type submission struct {
	id       string
	playerID string
	card     string
}

// Session is the state machine of one game room.
//
// A Session is not safe for concurrent use: every call, including timer
// callbacks (which arrive through post), must run on the session's Loop.
// The session never touches the network; observers learn about every
// mutation through the listeners registered with Subscribe.
type Session struct {
	id    string
	state State
	rules Rules
	cards *deck.Deck
	clock clockwork.Clock
	rnd   *rand.Rand
	post  Poster
	newID func() string

	players []*Player

	red            *deck.Pile
	white          *deck.Pile
	redCard        string
	votes          []*submission
	ballots        map[string]string // voter id -> submission id
	round          int
	choosingEndsAt time.Time
	votingEndsAt   time.Time
	winners        []PlayerView
	roundWinner    *SubmissionView

	phaseTimer timerSlot
	endTimer   timerSlot

	listeners []Listener
	closed    bool
}

// ID returns the session identifier shared with clients
func (s *Session) ID() string { return s.id }

// State returns the current phase
func (s *Session) State() State { return s.state }

// Rules returns the policy the session runs with
func (s *Session) Rules() Rules { return s.rules }

// Round returns the number of the current round, 0 outside of a game
func (s *Session) Round() int { return s.round }

// Closed reports whether the session ended for good
func (s *Session) Closed() bool { return s.closed }

// Players returns the players in join order
func (s *Session) Players() []*Player {
	return slices.Clone(s.players)
}

// Player looks up a player by id
func (s *Session) Player(id string) (*Player, bool) {
	i := s.index(id)
	if i < 0 {
		return nil, false
	}
	return s.players[i], true
}

// RedCard returns the prompt of the current round
func (s *Session) RedCard() (string, bool) {
	return s.redCard, s.redCard != ""
}

// Votes returns the anonymous submissions of the current round in display order
func (s *Session) Votes() []SubmissionView {
	out := make([]SubmissionView, 0, len(s.votes))
	for _, v := range s.votes {
		out = append(out, SubmissionView{ID: v.id, Text: v.card})
	}
	return out
}

// VotingEndsAt returns the voting deadline while in the voting phase
func (s *Session) VotingEndsAt() (time.Time, bool) {
	return s.votingEndsAt, !s.votingEndsAt.IsZero()
}

// ChoosingEndsAt returns the submission deadline while in the choosing phase
func (s *Session) ChoosingEndsAt() (time.Time, bool) {
	return s.choosingEndsAt, !s.choosingEndsAt.IsZero()
}

// Winners returns the podium of the last game, nil unless it ended with at least 3 players
func (s *Session) Winners() []PlayerView {
	return s.winners
}

// ConnectedCount returns the number of players with a live connection
func (s *Session) ConnectedCount() int {
	n := 0
	for _, p := range s.players {
		if !p.Disconnected {
			n++
		}
	}
	return n
}

// Subscribe registers l for every future event
func (s *Session) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Session) emit(ev Event) {
	ev.Session = s
	log.Debug().
		Str("session_id", s.id).
		Str("event", string(ev.Type)).
		Str("state", string(s.state)).
		Msg("session event")

	for _, l := range s.listeners {
		l(ev)
	}
}

// Join adds a player, or reactivates the disconnected player with the same nickname.
// A reactivated player keeps its id and score; its sender and avatar are replaced.
func (s *Session) Join(sender Sender, nickname string, avatarID int) (*Player, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	for _, p := range s.players {
		if p.Nickname != nickname {
			continue
		}
		if !p.Disconnected {
			return nil, ErrNicknameTaken
		}

		p.Sender = sender
		p.AvatarID = avatarID
		p.Disconnected = false
		s.afterJoin(p)

		log.Info().
			Str("session_id", s.id).
			Str("player_id", p.ID).
			Msg("player reconnected")
		return p, nil
	}

	if s.ConnectedCount() >= s.rules.MaxPlayers {
		return nil, ErrSessionFull
	}
	if len(s.players) >= s.rules.MaxPlayers {
		s.freeSeat()
	}

	p := &Player{
		ID:       s.newID(),
		Nickname: nickname,
		AvatarID: avatarID,
		Sender:   sender,
	}
	s.players = append(s.players, p)
	if s.state == StateChoosing || s.state == StateVoting {
		s.topUp(p)
	}
	s.afterJoin(p)

	log.Info().
		Str("session_id", s.id).
		Str("player_id", p.ID).
		Int("players", len(s.players)).
		Msg("player joined")
	return p, nil
}

// freeSeat drops the earliest disconnected player so a newcomer can take its seat.
// Its cards go back to the white pile.
func (s *Session) freeSeat() {
	i := slices.IndexFunc(s.players, func(p *Player) bool { return p.Disconnected })
	if i < 0 {
		return
	}
	gone := s.players[i]
	if s.white != nil {
		s.white.Discard(gone.hand...)
	}
	gone.hand = nil
	s.players = slices.Delete(s.players, i, i+1)

	log.Info().
		Str("session_id", s.id).
		Str("player_id", gone.ID).
		Msg("seat of disconnected player reused")
}

func (s *Session) afterJoin(p *Player) {
	s.cancel(&s.endTimer)
	s.ensureHost()
	s.ensureMaster()
	s.resume()
	s.emit(Event{Type: EventJoin, Player: p, Diff: PlayersDiff{Players: s.playerViews()}})
}

// Leave removes the player in the lobby and on the end screen, and marks it
// disconnected while a game is running. Host and master are reassigned independently.
func (s *Session) Leave(playerID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	i := s.index(playerID)
	if i < 0 {
		return ErrPlayerNotFound
	}
	p := s.players[i]
	if p.Disconnected {
		return nil
	}

	if !s.state.Playing() {
		s.players = slices.Delete(s.players, i, i+1)
		if p.Host {
			s.assignHost()
		}
		s.emit(Event{Type: EventLeave, Player: p, Diff: PlayersDiff{Players: s.playerViews()}})
		s.checkEmpty()
		return nil
	}

	p.Disconnected = true
	if p.Host {
		s.assignHost()
	}
	if p.Master {
		s.rotateMaster()
	}
	s.emit(Event{Type: EventLeave, Player: p, Diff: PlayersDiff{Players: s.playerViews()}})

	if s.ConnectedCount() == 0 {
		s.checkEmpty()
		return nil
	}
	s.checkRoundProgress()
	return nil
}

// Kick removes a player on behalf of the host. Only allowed outside of a running game.
func (s *Session) Kick(hostID, targetID string) (*Player, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	host, ok := s.Player(hostID)
	if !ok {
		return nil, ErrPlayerNotFound
	}
	if !host.Host {
		return nil, ErrNotHost
	}
	if s.state.Playing() {
		return nil, ErrWrongState
	}
	if hostID == targetID {
		return nil, ErrCannotKickSelf
	}
	i := s.index(targetID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}

	target := s.players[i]
	s.players = slices.Delete(s.players, i, i+1)
	s.emit(Event{Type: EventKick, Player: target, Diff: PlayersDiff{Players: s.playerViews()}})

	log.Info().
		Str("session_id", s.id).
		Str("player_id", target.ID).
		Msg("player kicked")
	return target, nil
}

// checkEmpty arms the session-end grace timer once nobody is connected.
// Phase timers are frozen meanwhile and resume on the next join.
func (s *Session) checkEmpty() {
	if s.ConnectedCount() > 0 {
		return
	}
	s.cancel(&s.phaseTimer)
	s.schedule(&s.endTimer, s.rules.SessionEndGrace, s.end)
}

func (s *Session) end() {
	if s.ConnectedCount() > 0 {
		return
	}
	s.cancel(&s.phaseTimer)
	s.closed = true
	s.emit(Event{Type: EventSessionEnd})

	log.Info().Str("session_id", s.id).Msg("session ended")
}

// resume re-arms the phase timer of a session that was frozen while empty
func (s *Session) resume() {
	if s.phaseTimer.armed() {
		return
	}
	now := s.clock.Now()
	round := s.round

	switch s.state {
	case StateStarting:
		s.schedule(&s.phaseTimer, s.rules.StartDelay, s.beginGame)
	case StateChoosing:
		s.choosingEndsAt = now.Add(s.rules.ChoosingDuration)
		s.schedule(&s.phaseTimer, s.rules.ChoosingDuration, func() { s.onChoosingDeadline(round) })
	case StateVoting:
		s.votingEndsAt = now.Add(s.rules.VotingDuration)
		s.schedule(&s.phaseTimer, s.rules.VotingDuration, func() { s.onVotingDeadline(round) })
	case StateEnd:
		s.schedule(&s.phaseTimer, s.rules.EndLinger, s.onEndLinger)
	}
}

func (s *Session) index(playerID string) int {
	return slices.IndexFunc(s.players, func(p *Player) bool { return p.ID == playerID })
}

func (s *Session) firstConnected() *Player {
	for _, p := range s.players {
		if !p.Disconnected {
			return p
		}
	}
	return nil
}

func (s *Session) masterIndex() int {
	return slices.IndexFunc(s.players, func(p *Player) bool { return p.Master })
}

// assignHost gives the host role to the first connected player in join order.
// With nobody connected the flag stays where it is.
func (s *Session) assignHost() {
	first := s.firstConnected()
	if first == nil {
		return
	}
	for _, p := range s.players {
		p.Host = p == first
	}
}

func (s *Session) ensureHost() {
	for _, p := range s.players {
		if p.Host && !p.Disconnected {
			return
		}
	}
	s.assignHost()
}

// rotateMaster hands the master role to the next connected player after the
// current master in join order, wrapping around and skipping disconnected players.
func (s *Session) rotateMaster() {
	n := len(s.players)
	from := s.masterIndex()
	for step := 1; step <= n; step++ {
		next := s.players[(from+step+n)%n]
		if next.Disconnected {
			continue
		}
		s.setMaster(next)
		return
	}
}

func (s *Session) ensureMaster() {
	if s.state != StateChoosing && s.state != StateVoting {
		return
	}
	if i := s.masterIndex(); i >= 0 && !s.players[i].Disconnected {
		return
	}
	s.rotateMaster()
}

func (s *Session) setMaster(next *Player) {
	for _, p := range s.players {
		p.Master = p == next
	}
	if s.state == StateChoosing {
		s.withdraw(next)
	}
}

func (s *Session) playerViews() []PlayerView {
	out := make([]PlayerView, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p.View())
	}
	return out
}

// Snapshot returns the complete view of the session for playerID
func (s *Session) Snapshot(playerID string) Snapshot {
	snap := Snapshot{
		ID:       s.id,
		PlayerID: playerID,
		State:    s.state,
		Players:  s.playerViews(),
	}
	if s.redCard != "" {
		card := s.redCard
		snap.RedCard = &card
	}
	if s.state == StateVoting {
		snap.Votes = s.Votes()
	}
	if !s.choosingEndsAt.IsZero() {
		ms := s.choosingEndsAt.UnixMilli()
		snap.ChoosingEndsAt = &ms
	}
	if !s.votingEndsAt.IsZero() {
		ms := s.votingEndsAt.UnixMilli()
		snap.VotingEndsAt = &ms
	}
	if p, ok := s.Player(playerID); ok && !p.Master {
		snap.Hand = p.Hand()
	}
	return snap
}
