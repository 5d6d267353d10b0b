package deck

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed cards.yaml
var defaultCards []byte

// ErrEmptyDeck is returned when a deck has no red or no white cards
var ErrEmptyDeck = errors.New("deck has no cards")

// Deck is the static card content a session plays with.
// Red cards are prompts shown by the master, white cards are the answers players hold.
type Deck struct {
	Red   []string `yaml:"red"`
	White []string `yaml:"white"`
}

// Parse decodes a YAML deck and drops blank or duplicate cards
func Parse(data []byte) (*Deck, error) {
	var d Deck
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse deck: %w", err)
	}

	d.Red = normalize(d.Red)
	d.White = normalize(d.White)

	if len(d.Red) == 0 || len(d.White) == 0 {
		return nil, ErrEmptyDeck
	}
	return &d, nil
}

// Load reads a YAML deck from disk
func Load(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck file: %w", err)
	}
	return Parse(data)
}

// Default returns the deck compiled into the binary
func Default() *Deck {
	d, err := Parse(defaultCards)
	if err != nil {
		panic(fmt.Sprintf("embedded deck is invalid: %v", err))
	}
	return d
}

// Validate checks the deck can serve a full table
func (d *Deck) Validate(maxPlayers, handSize int) error {
	if len(d.Red) == 0 || len(d.White) == 0 {
		return ErrEmptyDeck
	}
	need := (maxPlayers - 1) * handSize
	if len(d.White) < need {
		return fmt.Errorf("deck has %d white cards, need at least %d for %d players", len(d.White), need, maxPlayers)
	}
	return nil
}

func normalize(cards []string) []string {
	seen := make(map[string]struct{}, len(cards))
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Pile is a shuffled draw pile.
// A recycling pile reshuffles its discards back in when it runs dry.
type Pile struct {
	cards   []string
	discard []string
	rnd     *rand.Rand
	recycle bool
}

// NewPile copies and shuffles cards into a new pile
func NewPile(cards []string, rnd *rand.Rand, recycle bool) *Pile {
	p := &Pile{
		cards:   append([]string(nil), cards...),
		rnd:     rnd,
		recycle: recycle,
	}
	p.shuffle(p.cards)
	return p
}

func (p *Pile) shuffle(cards []string) {
	p.rnd.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// Draw takes the top card. ok is false when the pile (and its discards) are empty.
func (p *Pile) Draw() (card string, ok bool) {
	if len(p.cards) == 0 && p.recycle && len(p.discard) > 0 {
		p.cards, p.discard = p.discard, nil
		p.shuffle(p.cards)
	}
	if len(p.cards) == 0 {
		return "", false
	}
	card = p.cards[len(p.cards)-1]
	p.cards = p.cards[:len(p.cards)-1]
	return card, true
}

// DrawN draws up to n cards
func (p *Pile) DrawN(n int) []string {
	out := make([]string, 0, n)
	for range n {
		card, ok := p.Draw()
		if !ok {
			break
		}
		out = append(out, card)
	}
	return out
}

// Discard puts played cards aside for recycling
func (p *Pile) Discard(cards ...string) {
	if !p.recycle {
		return
	}
	p.discard = append(p.discard, cards...)
}

// Len is the number of cards left to draw, discards excluded
func (p *Pile) Len() int {
	return len(p.cards)
}
