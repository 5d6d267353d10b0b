package session

// EventType names a session event. Outbound messages reuse these names as their type.
type EventType string

const (
	EventJoin          EventType = "join"
	EventLeave         EventType = "leave"
	EventKick          EventType = "kick"
	EventSessionEnd    EventType = "sessionend"
	EventGameStart     EventType = "gamestart"
	EventChoosing      EventType = "choosing"
	EventCardSubmitted EventType = "cardsubmitted"
	EventVoting        EventType = "voting"
	EventVoted         EventType = "voted"
	EventGameEnd       EventType = "gameend"
	EventRestart       EventType = "restart"
)

// Event is emitted by a session after every mutation.
// Player is the subject of join/leave/kick events and nil otherwise.
// Diff carries only the fields the mutation changed.
type Event struct {
	Type    EventType
	Session *Session
	Player  *Player
	Diff    any
}

// Listener receives session events on the session's loop.
// Listeners must not block and must not call back into the loop synchronously.
type Listener func(Event)

// PersonalDiff is implemented by diffs that differ per recipient (private hands)
type PersonalDiff interface {
	For(p *Player) any
}

// SubmissionView is the client-facing shape of a submitted card.
// PlayerID stays empty until the submission is revealed as a round winner.
type SubmissionView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	PlayerID string `json:"playerId,omitempty"`
}

// PlayersDiff is sent for join/leave/kick/cardsubmitted/voted events
type PlayersDiff struct {
	Players []PlayerView `json:"players"`
}

// GameStartDiff is sent when the start countdown begins
type GameStartDiff struct {
	State           State `json:"state"`
	StartDelayMilli int64 `json:"startDelayMs"`
}

// ChoosingDiff is sent at the beginning of each round
type ChoosingDiff struct {
	State          State            `json:"state"`
	Players        []PlayerView     `json:"players"`
	RedCard        string           `json:"redCard"`
	Votes          []SubmissionView `json:"votes"`
	ChoosingEndsAt int64            `json:"choosingEndsAt"`
	RoundWinner    *SubmissionView  `json:"roundWinner"`
	Hand           []string         `json:"hand,omitempty"`
}

// For attaches the recipient's private hand
func (d ChoosingDiff) For(p *Player) any {
	if !p.Master {
		d.Hand = p.Hand()
	}
	return d
}

// VotingDiff is sent when submissions are revealed for judging
type VotingDiff struct {
	State        State            `json:"state"`
	Players      []PlayerView     `json:"players"`
	Votes        []SubmissionView `json:"votes"`
	VotingEndsAt int64            `json:"votingEndsAt"`
}

// GameEndDiff is sent when the game ends
type GameEndDiff struct {
	State       State           `json:"state"`
	Players     []PlayerView    `json:"players"`
	Winners     []PlayerView    `json:"winners"`
	RoundWinner *SubmissionView `json:"roundWinner"`
}

// RestartDiff is sent when the session returns to the lobby
type RestartDiff struct {
	State   State            `json:"state"`
	Players []PlayerView     `json:"players"`
	RedCard *string          `json:"redCard"`
	Votes   []SubmissionView `json:"votes"`
	Winners []PlayerView     `json:"winners"`
}

// Snapshot is the complete session view sent to a joining or reconnecting player
type Snapshot struct {
	ID             string           `json:"id"`
	PlayerID       string           `json:"playerId"`
	State          State            `json:"state"`
	Players        []PlayerView     `json:"players"`
	RedCard        *string          `json:"redCard"`
	Votes          []SubmissionView `json:"votes"`
	ChoosingEndsAt *int64           `json:"choosingEndsAt"`
	VotingEndsAt   *int64           `json:"votingEndsAt"`
	Winners        []PlayerView     `json:"winners"`
	Hand           []string         `json:"hand"`
}
