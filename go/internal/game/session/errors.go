package session

import "errors"

var (
	// ErrPlayerNotFound is returned when an action names a player the session does not hold
	ErrPlayerNotFound = errors.New("player not found")
	// ErrNotHost is returned when a host-only action comes from another player
	ErrNotHost = errors.New("player is not the host")
	// ErrNotMaster is returned when a master-only action comes from another player
	ErrNotMaster = errors.New("player is not the master")
	// ErrWrongState is returned when an action is not accepted in the current state
	ErrWrongState = errors.New("action not allowed in current state")
	// ErrNotEnoughPlayers is returned by StartGame below the minimum player count
	ErrNotEnoughPlayers = errors.New("not enough players")
	// ErrSessionFull is returned when a new player would exceed the player limit
	ErrSessionFull = errors.New("session is full")
	// ErrNicknameTaken is returned when a connected player already uses the nickname
	ErrNicknameTaken = errors.New("nickname taken")
	// ErrMasterCannotSubmit is returned when the master tries to submit a card
	ErrMasterCannotSubmit = errors.New("master cannot submit a card")
	// ErrAlreadySubmitted is returned on a second submission in the same round
	ErrAlreadySubmitted = errors.New("card already submitted")
	// ErrAlreadyVoted is returned on a second ballot in the same round
	ErrAlreadyVoted = errors.New("already voted")
	// ErrCardNotInHand is returned when the submitted card is not in the player's hand
	ErrCardNotInHand = errors.New("card not in hand")
	// ErrSubmissionNotFound is returned when a vote names an unknown submission
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrOwnSubmission is returned when a player votes for their own card
	ErrOwnSubmission = errors.New("cannot vote for own submission")
	// ErrCannotKickSelf is returned when the host tries to kick themselves
	ErrCannotKickSelf = errors.New("cannot kick yourself")
	// ErrPlayerDisconnected is returned when a disconnected player tries to act
	ErrPlayerDisconnected = errors.New("player is disconnected")
	// ErrSessionClosed is returned once the session has ended for good
	ErrSessionClosed = errors.New("session closed")
)
