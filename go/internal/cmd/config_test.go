package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags(args))
	if err := cmd.PreRunE(cmd, nil); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		args     []string
		file     string
		wantErr  bool
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.port)
				assert.Equal(t, "1", cfg.serverNumber)
				assert.Equal(t, session.DefaultRules(), cfg.rules())
				assert.Empty(t, cfg.natsURL)
			},
		},
		{
			name: "flags",
			args: []string{"--port", "9000", "--server-number", "7", "--voting-mode", "everyone", "--start-delay", "1s"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.port)
				assert.Equal(t, "7", cfg.relayConfig().ServerID)
				assert.Equal(t, session.VotingModeEveryone, cfg.rules().VotingMode)
				assert.Equal(t, time.Second, cfg.rules().StartDelay)
			},
		},
		{
			name: "environment",
			env:  map[string]string{"EVILCARDS_WIN_SCORE": "3", "EVILCARDS_NATS_URL": "nats://nats:4222"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.rules().WinScore)
				assert.Equal(t, "nats://nats:4222", cfg.natsConfig().URL)
				assert.Equal(t, "evilcards-1", cfg.natsConfig().Name)
			},
		},
		{
			name: "flag beats environment",
			env:  map[string]string{"EVILCARDS_HAND_SIZE": "5"},
			args: []string{"--hand-size", "8"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.rules().HandSize)
			},
		},
		{
			name: "config file",
			file: "max-players: 6\nallowed-origins:\n  - https://a.example\n  - https://b.example\n",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 6, cfg.rules().MaxPlayers)
				assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.allowedOrigins)
			},
		},
		{name: "bad port", args: []string{"--port", "0"}, wantErr: true},
		{name: "bad voting mode", args: []string{"--voting-mode", "chaos"}, wantErr: true},
		{name: "min above max", args: []string{"--min-players", "5", "--max-players", "4"}, wantErr: true},
		{name: "missing config file", args: []string{"--config", "/nonexistent/evilcards.yaml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			args := tt.args
			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "evilcards.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
				args = append(args, "--config", path)
			}

			cfg, err := parse(t, args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestSetupLogging(t *testing.T) {
	cfg := &Config{logLevel: "verbose"}
	assert.Error(t, cfg.setupLogging())
}
