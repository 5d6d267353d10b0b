package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mcdev12/evilcards/go/internal/game/session"
)

// Inbound message types
const (
	TypeCreate      = "create"
	TypeJoinSession = "joinsession"
	TypeStartGame   = "startgame"
	TypeSubmitCard  = "submitcard"
	TypeVote        = "vote"
	TypeRestart     = "restart"
	TypeKick        = "kick"
	TypePing        = "ping"
)

// Outbound message types that are not session events
const (
	TypeJoin        = "join"
	TypePlayerJoin  = "playerjoin"
	TypePlayerLeave = "playerleave"
	TypePong        = "pong"
	TypeError       = "error"
)

// Error codes sent in error messages
const (
	CodeSessionNotFound = "sessionnotfound"
	CodeKicked          = "kicked"
	CodeInvalidMessage  = "invalidmessage"
	CodeForbidden       = "forbidden"
	CodeInternal        = "internal"
	CodeNicknameTaken   = "nicknametaken"
	CodeSessionFull     = "sessionfull"
)

// Close codes
const (
	CloseKicked  = 4000
	ReasonKicked = "kicked"
)

const (
	MaxNicknameLength = 20
	MaxAvatarID       = 32
)

// ErrInvalidMessage is returned for malformed or unknown inbound messages
var ErrInvalidMessage = errors.New("invalid message")

type envelope struct {
	Type    string          `json:"type"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Message is a decoded inbound message
type Message interface {
	Validate() error
}

type CreateMessage struct {
	Nickname string `json:"nickname"`
	AvatarID int    `json:"avatarId"`
}

func (m *CreateMessage) Validate() error {
	var err error
	m.Nickname, err = validateIdentity(m.Nickname, m.AvatarID)
	return err
}

type JoinMessage struct {
	SessionID string `json:"sessionId"`
	Nickname  string `json:"nickname"`
	AvatarID  int    `json:"avatarId"`
}

func (m *JoinMessage) Validate() error {
	m.SessionID = strings.TrimSpace(m.SessionID)
	if m.SessionID == "" {
		return errors.New("sessionId is required")
	}
	var err error
	m.Nickname, err = validateIdentity(m.Nickname, m.AvatarID)
	return err
}

type StartGameMessage struct{}

func (*StartGameMessage) Validate() error { return nil }

type SubmitCardMessage struct {
	Card string `json:"card"`
}

func (m *SubmitCardMessage) Validate() error {
	if m.Card == "" {
		return errors.New("card is required")
	}
	return nil
}

type VoteMessage struct {
	SubmissionID string `json:"submissionId"`
}

func (m *VoteMessage) Validate() error {
	if m.SubmissionID == "" {
		return errors.New("submissionId is required")
	}
	return nil
}

type RestartMessage struct{}

func (*RestartMessage) Validate() error { return nil }

type KickMessage struct {
	PlayerID string `json:"playerId"`
}

func (m *KickMessage) Validate() error {
	if m.PlayerID == "" {
		return errors.New("playerId is required")
	}
	return nil
}

type PingMessage struct{}

func (*PingMessage) Validate() error { return nil }

func validateIdentity(nickname string, avatarID int) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nickname); n == 0 || n > MaxNicknameLength {
		return nickname, fmt.Errorf("nickname must be 1-%d characters", MaxNicknameLength)
	}
	if avatarID < 0 || avatarID > MaxAvatarID {
		return nickname, fmt.Errorf("avatarId must be 0-%d", MaxAvatarID)
	}
	return nickname, nil
}

// Decode parses and validates an inbound message
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg Message
	switch env.Type {
	case TypeCreate:
		msg = &CreateMessage{}
	case TypeJoinSession:
		msg = &JoinMessage{}
	case TypeStartGame:
		msg = &StartGameMessage{}
	case TypeSubmitCard:
		msg = &SubmitCardMessage{}
	case TypeVote:
		msg = &VoteMessage{}
	case TypeRestart:
		msg = &RestartMessage{}
	case TypeKick:
		msg = &KickMessage{}
	case TypePing:
		msg = &PingMessage{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, env.Type)
	}

	if len(env.Details) > 0 && string(env.Details) != "null" {
		if err := json.Unmarshal(env.Details, msg); err != nil {
			return nil, fmt.Errorf("%w: %s details: %v", ErrInvalidMessage, env.Type, err)
		}
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// Encode builds an inbound message, used by clients
func Encode(msgType string, details any) ([]byte, error) {
	env := struct {
		Type    string `json:"type"`
		Details any    `json:"details,omitempty"`
	}{Type: msgType, Details: details}
	return json.Marshal(env)
}

// Outbound is the shape of every message sent to clients
type Outbound struct {
	Type    string          `json:"type"`
	Details json.RawMessage `json:"details,omitempty"`
}

// StateDetails wraps a state diff
type StateDetails struct {
	ChangedState json.RawMessage `json:"changedState"`
}

// ErrorDetails carries an error code
type ErrorDetails struct {
	Code string `json:"code"`
}

func encodeState(msgType string, diff any) ([]byte, error) {
	type details struct {
		ChangedState any `json:"changedState"`
	}
	return json.Marshal(struct {
		Type    string  `json:"type"`
		Details details `json:"details"`
	}{msgType, details{diff}})
}

func encodeError(code string) []byte {
	data, _ := json.Marshal(struct {
		Type    string       `json:"type"`
		Details ErrorDetails `json:"details"`
	}{TypeError, ErrorDetails{Code: code}})
	return data
}

var pongMessage = []byte(`{"type":"pong"}`)

// outboundType maps a session event to the message type sent to the other players
func outboundType(t session.EventType) string {
	switch t {
	case session.EventJoin:
		return TypePlayerJoin
	case session.EventLeave, session.EventKick:
		return TypePlayerLeave
	default:
		return string(t)
	}
}
