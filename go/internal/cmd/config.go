package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcdev12/evilcards/go/internal/game/deck"
	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	configFile string

	bind         string
	port         int
	serverNumber string

	redisAddr     string
	redisPassword string
	redisDB       int

	natsURL      string
	relaySubject string
	relayTimeout time.Duration

	minPlayers       int
	maxPlayers       int
	startDelay       time.Duration
	choosingDuration time.Duration
	votingDuration   time.Duration
	endLinger        time.Duration
	sessionEndGrace  time.Duration
	winScore         int
	maxRounds        int
	handSize         int
	votingMode       string
	deckPath         string

	allowedOrigins []string
	logLevel       string
	dev            bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.serverNumber == "" {
		return errors.New("--server-number must not be empty")
	}
	if c.redisAddr == "" {
		return errors.New("--redis-addr is required")
	}
	if c.relayTimeout <= 0 {
		return errors.New("--relay-timeout must be positive")
	}
	return c.rules().Validate()
}

func (c *Config) rules() session.Rules {
	return session.Rules{
		MinPlayers:       c.minPlayers,
		MaxPlayers:       c.maxPlayers,
		HandSize:         c.handSize,
		WinScore:         c.winScore,
		MaxRounds:        c.maxRounds,
		StartDelay:       c.startDelay,
		ChoosingDuration: c.choosingDuration,
		VotingDuration:   c.votingDuration,
		EndLinger:        c.endLinger,
		SessionEndGrace:  c.sessionEndGrace,
		VotingMode:       session.VotingMode(c.votingMode),
	}
}

func (c *Config) loadDeck() (*deck.Deck, error) {
	if c.deckPath == "" {
		return deck.Default(), nil
	}
	return deck.Load(c.deckPath)
}

func (c *Config) redisConfig() relay.RedisConfig {
	return relay.RedisConfig{
		Addr:     c.redisAddr,
		Password: c.redisPassword,
		DB:       c.redisDB,
	}
}

func (c *Config) natsConfig() relay.NATSConfig {
	cfg := relay.DefaultNATSConfig()
	cfg.URL = c.natsURL
	cfg.Name = "evilcards-" + c.serverNumber
	return cfg
}

func (c *Config) relayConfig() relay.Config {
	return relay.Config{
		Subject:  c.relaySubject,
		ServerID: c.serverNumber,
		Timeout:  c.relayTimeout,
	}
}

func (c *Config) setupLogging() error {
	level, err := zerolog.ParseLevel(c.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", c.logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if c.dev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = log.With().Str("server_id", c.serverNumber).Logger()
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("EVILCARDS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "evilcards",
		Short:         "Real-time game server for a party card game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfigFile(v, cmd.Flags(), cfg.configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.setupLogging(); err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	defaults := session.DefaultRules()
	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.configFile, "config", "c", "", "optional YAML config file, keys named like the flags (env: EVILCARDS_CONFIG)")

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: EVILCARDS_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: EVILCARDS_PORT)")
	fs.StringVar(&cfg.serverNumber, "server-number", "1", "identity of this process in routing records (env: EVILCARDS_SERVER_NUMBER)")

	fs.StringVar(&cfg.redisAddr, "redis-addr", "localhost:6379", "redis address for routing records (env: EVILCARDS_REDIS_ADDR)")
	fs.StringVar(&cfg.redisPassword, "redis-password", "", "redis password (env: EVILCARDS_REDIS_PASSWORD)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database (env: EVILCARDS_REDIS_DB)")

	fs.StringVar(&cfg.natsURL, "nats-url", "", "NATS url for the cross-server relay, empty to run alone (env: EVILCARDS_NATS_URL)")
	fs.StringVar(&cfg.relaySubject, "relay-subject", relay.DefaultConfig().Subject, "subject prefix of server inboxes (env: EVILCARDS_RELAY_SUBJECT)")
	fs.DurationVar(&cfg.relayTimeout, "relay-timeout", relay.DefaultConfig().Timeout, "how long a relayed message waits for its owner (env: EVILCARDS_RELAY_TIMEOUT)")

	fs.IntVar(&cfg.minPlayers, "min-players", defaults.MinPlayers, "players needed to start (env: EVILCARDS_MIN_PLAYERS)")
	fs.IntVar(&cfg.maxPlayers, "max-players", defaults.MaxPlayers, "players allowed in a session (env: EVILCARDS_MAX_PLAYERS)")
	fs.DurationVar(&cfg.startDelay, "start-delay", defaults.StartDelay, "countdown before the first round (env: EVILCARDS_START_DELAY)")
	fs.DurationVar(&cfg.choosingDuration, "choosing-duration", defaults.ChoosingDuration, "time to submit a card (env: EVILCARDS_CHOOSING_DURATION)")
	fs.DurationVar(&cfg.votingDuration, "voting-duration", defaults.VotingDuration, "time to pick a winner (env: EVILCARDS_VOTING_DURATION)")
	fs.DurationVar(&cfg.endLinger, "end-linger", defaults.EndLinger, "time on the end screen before returning to the lobby (env: EVILCARDS_END_LINGER)")
	fs.DurationVar(&cfg.sessionEndGrace, "session-end-grace", defaults.SessionEndGrace, "how long an empty session waits for a reconnect (env: EVILCARDS_SESSION_END_GRACE)")
	fs.IntVar(&cfg.winScore, "win-score", defaults.WinScore, "points that win the game (env: EVILCARDS_WIN_SCORE)")
	fs.IntVar(&cfg.maxRounds, "max-rounds", defaults.MaxRounds, "round limit, 0 for none (env: EVILCARDS_MAX_ROUNDS)")
	fs.IntVar(&cfg.handSize, "hand-size", defaults.HandSize, "white cards per hand (env: EVILCARDS_HAND_SIZE)")
	fs.StringVar(&cfg.votingMode, "voting-mode", string(defaults.VotingMode), "who picks the winner: master or everyone (env: EVILCARDS_VOTING_MODE)")
	fs.StringVar(&cfg.deckPath, "deck", "", "YAML deck file, the built-in deck when empty (env: EVILCARDS_DECK)")

	fs.StringSliceVar(&cfg.allowedOrigins, "allowed-origins", nil, "origins allowed to connect, all when empty (env: EVILCARDS_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level (env: EVILCARDS_LOG_LEVEL)")
	fs.BoolVar(&cfg.dev, "dev", false, "human readable console logs (env: EVILCARDS_DEV)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("evilcards v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// loadConfigFile applies a YAML config file to every flag not set on the command line or in the environment
func loadConfigFile(v *viper.Viper, fs *pflag.FlagSet, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.InConfig(f.Name) {
			return
		}
		value := v.Get(f.Name)
		if list, ok := value.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			value = strings.Join(parts, ",")
		}
		if err := fs.Set(f.Name, fmt.Sprint(value)); err != nil {
			errs = append(errs, fmt.Errorf("config %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
