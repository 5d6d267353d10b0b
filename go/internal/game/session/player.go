package session

import "slices"

// Sender pushes serialized messages to a player's live connection.
// The connection may live on this process or behind the relay on another one.
type Sender interface {
	Send(payload []byte) error
	Close(code int, reason string) error
}

// Player is one participant of a session
type Player struct {
	ID           string
	Nickname     string
	AvatarID     int
	Score        int
	Host         bool
	Master       bool
	Disconnected bool
	// Voted is set once the player submitted a card (choosing) or cast a ballot (voting)
	Voted  bool
	Sender Sender

	hand []string
}

// Hand returns a copy of the player's cards
func (p *Player) Hand() []string {
	return slices.Clone(p.hand)
}

func (p *Player) takeCard(card string) bool {
	i := slices.Index(p.hand, card)
	if i < 0 {
		return false
	}
	p.hand = slices.Delete(p.hand, i, i+1)
	return true
}

// PlayerView is the client-facing shape of a player
type PlayerView struct {
	ID           string `json:"id"`
	Nickname     string `json:"nickname"`
	AvatarID     int    `json:"avatarId"`
	Score        int    `json:"score"`
	Host         bool   `json:"host"`
	Master       bool   `json:"master"`
	Disconnected bool   `json:"disconnected"`
	Voted        bool   `json:"voted"`
}

// View returns the client-facing shape of p
func (p *Player) View() PlayerView {
	return PlayerView{
		ID:           p.ID,
		Nickname:     p.Nickname,
		AvatarID:     p.AvatarID,
		Score:        p.Score,
		Host:         p.Host,
		Master:       p.Master,
		Disconnected: p.Disconnected,
		Voted:        p.Voted,
	}
}
