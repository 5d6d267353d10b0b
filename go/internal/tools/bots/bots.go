package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/mcdev12/evilcards/go/clients/game_client"
	"github.com/mcdev12/evilcards/go/internal/game/gateway"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	url       string
	sessionID string
	count     int
	think     time.Duration
	start     bool
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	opts := &options{}
	cmd := &cobra.Command{
		Use:          "bots",
		Short:        "Fill a game session with bots that play random cards.",
		Args:         cobra.ExactArgs(0),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBots(ctx, opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.url, "url", "u", "ws://localhost:8080/session", "websocket endpoint of a game server")
	fs.StringVarP(&opts.sessionID, "session", "s", "", "session to join, a new one is created when empty")
	fs.IntVarP(&opts.count, "count", "n", 3, "number of bots")
	fs.DurationVar(&opts.think, "think", 500*time.Millisecond, "upper bound of the random delay before each move")
	fs.BoolVar(&opts.start, "start", true, "start the game once every bot joined, when the bots created the session")

	cobra.CheckErr(cmd.Execute())
}

func runBots(ctx context.Context, opts *options) error {
	if opts.count < 1 {
		return fmt.Errorf("--count must be positive, got %d", opts.count)
	}

	sessionID := opts.sessionID
	var host *game_client.Client
	hostBot := newBot(opts.think)
	if sessionID == "" {
		c, snap, err := createSession(ctx, opts.url, nickname(0))
		if err != nil {
			return err
		}
		host, sessionID = c, snap.ID
		hostBot.playerID = snap.PlayerID
		log.Info().Str("session_id", sessionID).Msg("created session")
	}

	var wg sync.WaitGroup
	start := 0
	if host != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			play(ctx, host, hostBot, nickname(0))
		}()
		start = 1
	}

	for i := start; i < opts.count; i++ {
		c, err := game_client.Dial(ctx, opts.url, game_client.Options{})
		if err != nil {
			return err
		}
		if err := c.Join(sessionID, nickname(i), i%(gateway.MaxAvatarID+1)); err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			play(ctx, c, newBot(opts.think), nickname(i))
		}()
	}

	if host != nil && opts.start {
		time.Sleep(time.Second)
		if err := host.Send(gateway.TypeStartGame, gateway.StartGameMessage{}); err != nil {
			return err
		}
	}

	wg.Wait()
	return nil
}

func createSession(ctx context.Context, url, name string) (*game_client.Client, session.Snapshot, error) {
	c, err := game_client.Dial(ctx, url, game_client.Options{})
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	if err := c.Create(name, 0); err != nil {
		return nil, session.Snapshot{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := c.WaitFor(ctx, gateway.TypeCreate, gateway.TypeError)
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	if msg.Type == gateway.TypeError {
		return nil, session.Snapshot{}, fmt.Errorf("create rejected: %s", msg.Details)
	}

	var snap session.Snapshot
	if err := decodeState(msg, &snap); err != nil {
		return nil, session.Snapshot{}, err
	}
	return c, snap, nil
}

func nickname(i int) string {
	return fmt.Sprintf("bot-%02d", i+1)
}

// play answers server messages until the connection ends
func play(ctx context.Context, c *game_client.Client, b *bot, name string) {
	defer c.Close()
	logger := log.With().Str("bot", name).Logger()

	for {
		msg, err := c.Next(ctx)
		if err != nil {
			logger.Info().Err(c.Err()).Msg("bot stopped")
			return
		}

		reply, ok := b.handle(msg)
		if !ok {
			continue
		}
		time.Sleep(b.delay())
		if err := c.Send(reply.Type, reply.Details); err != nil {
			logger.Warn().Err(err).Str("type", reply.Type).Msg("failed to send")
		}
	}
}

type move struct {
	Type    string
	Details any
}

// bot picks random legal moves from what the server tells it
type bot struct {
	rnd      *rand.Rand
	think    time.Duration
	playerID string
	played   string
}

func newBot(think time.Duration) *bot {
	return &bot{
		rnd:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		think: think,
	}
}

func (b *bot) delay() time.Duration {
	if b.think <= 0 {
		return 0
	}
	return time.Duration(b.rnd.Int64N(int64(b.think)))
}

func (b *bot) handle(msg gateway.Outbound) (move, bool) {
	switch msg.Type {
	case gateway.TypeCreate, gateway.TypeJoin:
		var snap session.Snapshot
		if decodeState(msg, &snap) == nil {
			b.playerID = snap.PlayerID
		}
	case string(session.EventChoosing):
		var diff session.ChoosingDiff
		if decodeState(msg, &diff) != nil || len(diff.Hand) == 0 || b.isMaster(diff.Players) {
			return move{}, false
		}
		b.played = diff.Hand[b.rnd.IntN(len(diff.Hand))]
		return move{gateway.TypeSubmitCard, gateway.SubmitCardMessage{Card: b.played}}, true
	case string(session.EventVoting):
		var diff session.VotingDiff
		if decodeState(msg, &diff) != nil {
			return move{}, false
		}
		candidates := slices.DeleteFunc(slices.Clone(diff.Votes), func(v session.SubmissionView) bool {
			return v.Text == b.played
		})
		if len(candidates) == 0 {
			return move{}, false
		}
		// master mode rejects ballots from everyone but the master, which is harmless
		pick := candidates[b.rnd.IntN(len(candidates))]
		return move{gateway.TypeVote, gateway.VoteMessage{SubmissionID: pick.ID}}, true
	}
	return move{}, false
}

func (b *bot) isMaster(players []session.PlayerView) bool {
	for _, p := range players {
		if p.ID == b.playerID {
			return p.Master
		}
	}
	return false
}

func decodeState(msg gateway.Outbound, v any) error {
	var details struct {
		ChangedState json.RawMessage `json:"changedState"`
	}
	if err := json.Unmarshal(msg.Details, &details); err != nil {
		return err
	}
	return json.Unmarshal(details.ChangedState, v)
}
