package session

import (
	"errors"
	"fmt"
	"time"
)

// VotingMode decides who picks the winning submission of a round
type VotingMode string

const (
	// VotingModeMaster lets only the round's master pick
	VotingModeMaster VotingMode = "master"
	// VotingModeEveryone lets every connected player cast one ballot
	VotingModeEveryone VotingMode = "everyone"
)

// Rules holds the game policy a session runs with
type Rules struct {
	MinPlayers       int
	MaxPlayers       int
	HandSize         int
	WinScore         int
	MaxRounds        int // 0 means no round limit
	StartDelay       time.Duration
	ChoosingDuration time.Duration
	VotingDuration   time.Duration
	EndLinger        time.Duration // how long the end screen stays before returning to the lobby
	SessionEndGrace  time.Duration
	VotingMode       VotingMode
}

// DefaultRules returns the standard party rules
func DefaultRules() Rules {
	return Rules{
		MinPlayers:       3,
		MaxPlayers:       10,
		HandSize:         10,
		WinScore:         10,
		MaxRounds:        0,
		StartDelay:       3 * time.Second,
		ChoosingDuration: 60 * time.Second,
		VotingDuration:   30 * time.Second,
		EndLinger:        5 * time.Second,
		SessionEndGrace:  60 * time.Second,
		VotingMode:       VotingModeMaster,
	}
}

// Validate rejects rules the state machine cannot run with
func (r Rules) Validate() error {
	if r.MinPlayers < 2 {
		return fmt.Errorf("min players must be at least 2, got %d", r.MinPlayers)
	}
	if r.MaxPlayers < r.MinPlayers {
		return fmt.Errorf("max players (%d) below min players (%d)", r.MaxPlayers, r.MinPlayers)
	}
	if r.HandSize < 1 {
		return errors.New("hand size must be positive")
	}
	if r.WinScore < 1 {
		return errors.New("win score must be positive")
	}
	if r.MaxRounds < 0 {
		return errors.New("max rounds cannot be negative")
	}
	if r.StartDelay < 0 || r.ChoosingDuration <= 0 || r.VotingDuration <= 0 || r.EndLinger <= 0 || r.SessionEndGrace < 0 {
		return errors.New("durations must be positive")
	}
	switch r.VotingMode {
	case VotingModeMaster, VotingModeEveryone:
	default:
		return fmt.Errorf("unknown voting mode %q", r.VotingMode)
	}
	return nil
}
