package gateway

import (
	"errors"

	"github.com/mcdev12/evilcards/go/internal/game/manager"
	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/mcdev12/evilcards/go/internal/game/session"
)

var errNotAttached = errors.New("connection is not attached to a session")

var forbiddenErrors = []error{
	errNotAttached,
	errAlreadyAttached,
	session.ErrPlayerNotFound,
	session.ErrNotHost,
	session.ErrNotMaster,
	session.ErrWrongState,
	session.ErrNotEnoughPlayers,
	session.ErrMasterCannotSubmit,
	session.ErrAlreadySubmitted,
	session.ErrAlreadyVoted,
	session.ErrCardNotInHand,
	session.ErrSubmissionNotFound,
	session.ErrOwnSubmission,
	session.ErrCannotKickSelf,
	session.ErrPlayerDisconnected,
}

// errorCode maps an error to the code reported to the client
func errorCode(err error) string {
	var remote *relay.RemoteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &remote):
		return remote.Code
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, manager.ErrSessionNotFound),
		errors.Is(err, relay.ErrRouteNotFound),
		errors.Is(err, session.ErrSessionClosed):
		return CodeSessionNotFound
	case errors.Is(err, session.ErrNicknameTaken):
		return CodeNicknameTaken
	case errors.Is(err, session.ErrSessionFull):
		return CodeSessionFull
	}

	for _, target := range forbiddenErrors {
		if errors.Is(err, target) {
			return CodeForbidden
		}
	}
	return CodeInternal
}
