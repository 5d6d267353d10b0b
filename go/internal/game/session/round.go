package session

import (
	"cmp"
	"slices"
	"time"

	"github.com/mcdev12/evilcards/go/internal/game/deck"
	"github.com/rs/zerolog/log"
)

// StartGame begins the start countdown. Only the host may start, only from the
// lobby and only with enough connected players.
func (s *Session) StartGame(playerID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	p, ok := s.Player(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	if !p.Host {
		return ErrNotHost
	}
	if s.state != StateWaiting {
		return ErrWrongState
	}
	if s.ConnectedCount() < s.rules.MinPlayers {
		return ErrNotEnoughPlayers
	}

	s.state = StateStarting
	s.schedule(&s.phaseTimer, s.rules.StartDelay, s.beginGame)
	s.emit(Event{Type: EventGameStart, Diff: GameStartDiff{
		State:           s.state,
		StartDelayMilli: s.rules.StartDelay.Milliseconds(),
	}})

	log.Info().
		Str("session_id", s.id).
		Int("players", s.ConnectedCount()).
		Msg("game starting")
	return nil
}

func (s *Session) beginGame() {
	if s.state != StateStarting {
		return
	}

	s.red = deck.NewPile(s.cards.Red, s.rnd, false)
	s.white = deck.NewPile(s.cards.White, s.rnd, true)
	s.round = 0
	s.winners = nil
	s.roundWinner = nil
	for _, p := range s.players {
		p.Score = 0
		p.hand = nil
	}

	// setMaster before switching state so there is no submission to withdraw
	if first := s.firstConnected(); first != nil {
		s.setMaster(first)
	}
	s.startRound()
}

func (s *Session) startRound() {
	card, ok := s.red.Draw()
	if !ok {
		log.Info().Str("session_id", s.id).Msg("out of red cards")
		s.finishGame()
		return
	}

	s.round++
	s.redCard = card
	s.discardVotes()
	s.ballots = make(map[string]string)
	for _, p := range s.players {
		p.Voted = false
		if !p.Master {
			s.topUp(p)
		}
	}

	s.state = StateChoosing
	s.votingEndsAt = time.Time{}
	s.choosingEndsAt = s.clock.Now().Add(s.rules.ChoosingDuration)
	round := s.round
	s.schedule(&s.phaseTimer, s.rules.ChoosingDuration, func() { s.onChoosingDeadline(round) })

	s.emit(Event{Type: EventChoosing, Diff: ChoosingDiff{
		State:          s.state,
		Players:        s.playerViews(),
		RedCard:        s.redCard,
		Votes:          []SubmissionView{},
		ChoosingEndsAt: s.choosingEndsAt.UnixMilli(),
		RoundWinner:    s.roundWinner,
	}})

	log.Debug().
		Str("session_id", s.id).
		Int("round", s.round).
		Msg("round started")
}

func (s *Session) topUp(p *Player) {
	if s.white == nil {
		return
	}
	if need := s.rules.HandSize - len(p.hand); need > 0 {
		p.hand = append(p.hand, s.white.DrawN(need)...)
	}
}

func (s *Session) discardVotes() {
	if s.white != nil {
		for _, v := range s.votes {
			s.white.Discard(v.card)
		}
	}
	s.votes = nil
}

// withdraw returns p's submission of the current round to its hand
func (s *Session) withdraw(p *Player) {
	i := slices.IndexFunc(s.votes, func(v *submission) bool { return v.playerID == p.ID })
	if i < 0 {
		return
	}
	p.hand = append(p.hand, s.votes[i].card)
	s.votes = slices.Delete(s.votes, i, i+1)
	p.Voted = false
}

// SubmitCard plays a card from the player's hand for the current round
func (s *Session) SubmitCard(playerID, card string) error {
	if s.closed {
		return ErrSessionClosed
	}
	p, ok := s.Player(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	if s.state != StateChoosing {
		return ErrWrongState
	}
	if p.Disconnected {
		return ErrPlayerDisconnected
	}
	if p.Master {
		return ErrMasterCannotSubmit
	}
	if p.Voted {
		return ErrAlreadySubmitted
	}
	if !p.takeCard(card) {
		return ErrCardNotInHand
	}

	s.votes = append(s.votes, &submission{id: s.newID(), playerID: p.ID, card: card})
	p.Voted = true
	s.emit(Event{Type: EventCardSubmitted, Player: p, Diff: PlayersDiff{Players: s.playerViews()}})

	if s.allSubmitted() {
		s.beginVoting()
	}
	return nil
}

// allSubmitted is false while nobody connected can submit, so the round
// waits for a rejoin or its deadline
func (s *Session) allSubmitted() bool {
	submitters := 0
	for _, p := range s.players {
		if p.Disconnected || p.Master {
			continue
		}
		if !p.Voted {
			return false
		}
		submitters++
	}
	return submitters > 0
}

func (s *Session) onChoosingDeadline(round int) {
	if s.state != StateChoosing || s.round != round {
		return
	}
	log.Debug().Str("session_id", s.id).Int("round", round).Msg("choosing deadline reached")
	s.beginVoting()
}

func (s *Session) beginVoting() {
	s.cancel(&s.phaseTimer)
	s.state = StateVoting
	s.choosingEndsAt = time.Time{}
	for _, p := range s.players {
		p.Voted = false
	}

	if len(s.votes) == 0 {
		s.finishRound(nil)
		return
	}

	s.rnd.Shuffle(len(s.votes), func(i, j int) {
		s.votes[i], s.votes[j] = s.votes[j], s.votes[i]
	})
	s.votingEndsAt = s.clock.Now().Add(s.rules.VotingDuration)
	round := s.round
	s.schedule(&s.phaseTimer, s.rules.VotingDuration, func() { s.onVotingDeadline(round) })

	s.emit(Event{Type: EventVoting, Diff: VotingDiff{
		State:        s.state,
		Players:      s.playerViews(),
		Votes:        s.Votes(),
		VotingEndsAt: s.votingEndsAt.UnixMilli(),
	}})
}

// Vote picks or ballots for a submission. With VotingModeMaster the master's
// pick ends the round immediately; with VotingModeEveryone the round ends
// once every eligible player has voted.
func (s *Session) Vote(playerID, submissionID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	p, ok := s.Player(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	if s.state != StateVoting {
		return ErrWrongState
	}
	if p.Disconnected {
		return ErrPlayerDisconnected
	}
	sub := s.submission(submissionID)
	if sub == nil {
		return ErrSubmissionNotFound
	}

	if s.rules.VotingMode == VotingModeMaster {
		if !p.Master {
			return ErrNotMaster
		}
		if sub.playerID == p.ID {
			return ErrOwnSubmission
		}
		s.finishRound(sub)
		return nil
	}

	if p.Voted {
		return ErrAlreadyVoted
	}
	if sub.playerID == p.ID {
		return ErrOwnSubmission
	}
	s.ballots[p.ID] = sub.id
	p.Voted = true
	s.emit(Event{Type: EventVoted, Player: p, Diff: PlayersDiff{Players: s.playerViews()}})

	if s.allVoted() {
		s.finishRound(s.tally())
	}
	return nil
}

func (s *Session) submission(id string) *submission {
	for _, v := range s.votes {
		if v.id == id {
			return v
		}
	}
	return nil
}

// canVote reports whether some submission exists that p did not author
func (s *Session) canVote(p *Player) bool {
	return slices.ContainsFunc(s.votes, func(v *submission) bool { return v.playerID != p.ID })
}

func (s *Session) allVoted() bool {
	voters := 0
	for _, p := range s.players {
		if p.Disconnected || !s.canVote(p) {
			continue
		}
		if !p.Voted {
			return false
		}
		voters++
	}
	return voters > 0
}

// tally returns the submission with the most ballots; ties go to the one shown first
func (s *Session) tally() *submission {
	counts := make(map[string]int, len(s.votes))
	for _, id := range s.ballots {
		counts[id]++
	}

	var best *submission
	bestCount := 0
	for _, v := range s.votes {
		if c := counts[v.id]; c > bestCount {
			best, bestCount = v, c
		}
	}
	return best
}

func (s *Session) onVotingDeadline(round int) {
	if s.state != StateVoting || s.round != round {
		return
	}
	log.Debug().Str("session_id", s.id).Int("round", round).Msg("voting deadline reached")

	if s.rules.VotingMode == VotingModeEveryone {
		s.finishRound(s.tally())
		return
	}
	s.finishRound(nil)
}

// checkRoundProgress moves the round along when a leaving player was the last one being waited for
func (s *Session) checkRoundProgress() {
	switch s.state {
	case StateChoosing:
		if s.allSubmitted() {
			s.beginVoting()
		}
	case StateVoting:
		if s.rules.VotingMode == VotingModeEveryone && s.allVoted() {
			s.finishRound(s.tally())
		}
	}
}

func (s *Session) finishRound(winner *submission) {
	s.cancel(&s.phaseTimer)
	s.roundWinner = nil
	s.votingEndsAt = time.Time{}

	if winner != nil {
		s.roundWinner = &SubmissionView{ID: winner.id, Text: winner.card, PlayerID: winner.playerID}
		if author, ok := s.Player(winner.playerID); ok {
			author.Score++
			log.Debug().
				Str("session_id", s.id).
				Str("player_id", author.ID).
				Int("score", author.Score).
				Msg("round won")

			if author.Score >= s.rules.WinScore {
				s.finishGame()
				return
			}
		}
	}

	if s.rules.MaxRounds > 0 && s.round >= s.rules.MaxRounds {
		s.finishGame()
		return
	}

	s.rotateMaster()
	s.startRound()
}

// EndGame ends a running game and shows the end screen
func (s *Session) EndGame() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Playing() {
		return ErrWrongState
	}
	s.finishGame()
	return nil
}

func (s *Session) finishGame() {
	s.cancel(&s.phaseTimer)
	s.state = StateEnd

	s.players = slices.DeleteFunc(s.players, func(p *Player) bool { return p.Disconnected })
	s.clearRound()
	s.ensureHost()

	s.winners = nil
	if len(s.players) >= 3 {
		ranked := slices.Clone(s.players)
		slices.SortStableFunc(ranked, func(a, b *Player) int { return cmp.Compare(b.Score, a.Score) })
		for _, p := range ranked[:3] {
			s.winners = append(s.winners, p.View())
		}
	}

	s.emit(Event{Type: EventGameEnd, Diff: GameEndDiff{
		State:       s.state,
		Players:     s.playerViews(),
		Winners:     s.winners,
		RoundWinner: s.roundWinner,
	}})

	log.Info().
		Str("session_id", s.id).
		Int("rounds", s.round).
		Int("players", len(s.players)).
		Msg("game ended")

	if len(s.players) == 0 {
		s.checkEmpty()
		return
	}
	s.schedule(&s.phaseTimer, s.rules.EndLinger, s.onEndLinger)
}

func (s *Session) clearRound() {
	s.discardVotes()
	s.redCard = ""
	s.ballots = nil
	s.choosingEndsAt = time.Time{}
	s.votingEndsAt = time.Time{}
	s.red = nil
	s.white = nil
	for _, p := range s.players {
		p.Master = false
		p.Voted = false
		p.hand = nil
	}
}

func (s *Session) onEndLinger() {
	if s.state != StateEnd {
		return
	}
	s.reset()
}

// Restart takes the end screen back to the lobby on behalf of the host
func (s *Session) Restart(playerID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	p, ok := s.Player(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	if !p.Host {
		return ErrNotHost
	}
	if s.state != StateEnd {
		return ErrWrongState
	}
	s.reset()
	return nil
}

func (s *Session) reset() {
	s.cancel(&s.phaseTimer)
	s.state = StateWaiting
	s.players = slices.DeleteFunc(s.players, func(p *Player) bool { return p.Disconnected })
	s.clearRound()
	for _, p := range s.players {
		p.Score = 0
	}
	s.round = 0
	s.winners = nil
	s.roundWinner = nil
	s.ensureHost()

	s.emit(Event{Type: EventRestart, Diff: RestartDiff{
		State:   s.state,
		Players: s.playerViews(),
	}})

	log.Info().Str("session_id", s.id).Msg("session back in lobby")
}
