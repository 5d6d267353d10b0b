package gateway_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/evilcards/go/internal/game/gateway"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndJoin(t *testing.T) {
	srv := newServer(t)

	alice, created := srv.create(t, "alice")
	require.NotEmpty(t, created.ID)
	assert.Equal(t, session.StateWaiting, created.State)
	require.Len(t, created.Players, 1)
	assert.True(t, created.Players[0].Host)
	assert.Equal(t, created.Players[0].ID, created.PlayerID)

	_, joined := srv.join(t, created.ID, "bob")
	assert.Equal(t, created.ID, joined.ID)
	assert.Len(t, joined.Players, 2)
	assert.Nil(t, joined.RedCard)

	diff := changed[session.PlayersDiff](t, expect(t, alice, gateway.TypePlayerJoin))
	require.Len(t, diff.Players, 2)
	assert.Equal(t, "bob", diff.Players[1].Nickname)
	assert.False(t, diff.Players[1].Host)
}

func TestJoinErrors(t *testing.T) {
	srv := newServer(t)
	_, created := srv.create(t, "alice")

	tests := []struct {
		name    string
		details gateway.JoinMessage
		code    string
	}{
		{
			name:    "unknown session",
			details: gateway.JoinMessage{SessionID: "nope", Nickname: "bob"},
			code:    gateway.CodeSessionNotFound,
		},
		{
			name:    "nickname taken",
			details: gateway.JoinMessage{SessionID: created.ID, Nickname: "alice"},
			code:    gateway.CodeNicknameTaken,
		},
		{
			name:    "blank nickname",
			details: gateway.JoinMessage{SessionID: created.ID, Nickname: "   "},
			code:    gateway.CodeInvalidMessage,
		},
		{
			name:    "avatar out of range",
			details: gateway.JoinMessage{SessionID: created.ID, Nickname: "bob", AvatarID: gateway.MaxAvatarID + 1},
			code:    gateway.CodeInvalidMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := srv.connect(t)
			send(t, c, gateway.TypeJoinSession, tt.details)
			expectError(t, c, tt.code)
		})
	}
}

func TestProtocolErrors(t *testing.T) {
	srv := newServer(t)

	t.Run("ping", func(t *testing.T) {
		c := srv.connect(t)
		send(t, c, gateway.TypePing, nil)
		expect(t, c, gateway.TypePong)
	})

	t.Run("unknown type", func(t *testing.T) {
		c := srv.connect(t)
		send(t, c, "dance", nil)
		expectError(t, c, gateway.CodeInvalidMessage)
	})

	t.Run("action before joining", func(t *testing.T) {
		c := srv.connect(t)
		send(t, c, gateway.TypeStartGame, nil)
		expectError(t, c, gateway.CodeForbidden)
	})

	t.Run("second join", func(t *testing.T) {
		c, created := srv.create(t, "alice")
		send(t, c, gateway.TypeJoinSession, gateway.JoinMessage{SessionID: created.ID, Nickname: "again"})
		expectError(t, c, gateway.CodeForbidden)
	})

	t.Run("start by non-host", func(t *testing.T) {
		_, created := srv.create(t, "alice")
		bob, _ := srv.join(t, created.ID, "bob")
		srv.join(t, created.ID, "carol")

		send(t, bob, gateway.TypeStartGame, nil)
		expectError(t, bob, gateway.CodeForbidden)
	})

	t.Run("start without enough players", func(t *testing.T) {
		alice, _ := srv.create(t, "alice")
		send(t, alice, gateway.TypeStartGame, nil)
		expectError(t, alice, gateway.CodeForbidden)
	})
}

func TestGameRound(t *testing.T) {
	srv := newServer(t)

	alice, created := srv.create(t, "alice")
	bob, _ := srv.join(t, created.ID, "bob")
	carol, _ := srv.join(t, created.ID, "carol")

	send(t, alice, gateway.TypeStartGame, nil)
	start := changed[session.GameStartDiff](t, expect(t, alice, string(session.EventGameStart)))
	assert.Equal(t, session.StateStarting, start.State)
	expect(t, bob, string(session.EventGameStart))
	expect(t, carol, string(session.EventGameStart))

	srv.clock.Advance(srv.rules.StartDelay)

	aliceRound := changed[session.ChoosingDiff](t, expect(t, alice, string(session.EventChoosing)))
	bobRound := changed[session.ChoosingDiff](t, expect(t, bob, string(session.EventChoosing)))
	carolRound := changed[session.ChoosingDiff](t, expect(t, carol, string(session.EventChoosing)))

	assert.NotEmpty(t, aliceRound.RedCard)
	assert.Empty(t, aliceRound.Hand, "the master holds no playable hand")
	assert.Len(t, bobRound.Hand, srv.rules.HandSize)
	assert.Len(t, carolRound.Hand, srv.rules.HandSize)
	assert.NotEqual(t, bobRound.Hand, carolRound.Hand)

	send(t, bob, gateway.TypeSubmitCard, gateway.SubmitCardMessage{Card: bobRound.Hand[0]})
	submitted := changed[session.PlayersDiff](t, expect(t, alice, string(session.EventCardSubmitted)))
	for _, p := range submitted.Players {
		assert.Equal(t, p.Nickname == "bob", p.Voted, p.Nickname)
	}
	own := changed[session.PlayersDiff](t, expect(t, bob, string(session.EventCardSubmitted)))
	assert.Equal(t, submitted, own, "the submitter sees its own voted flag")

	send(t, carol, gateway.TypeSubmitCard, gateway.SubmitCardMessage{Card: carolRound.Hand[0]})
	voting := changed[session.VotingDiff](t, expect(t, alice, string(session.EventVoting)))
	require.Len(t, voting.Votes, 2)
	for _, v := range voting.Votes {
		assert.Empty(t, v.PlayerID, "submitters stay anonymous while voting")
	}

	send(t, bob, gateway.TypeVote, gateway.VoteMessage{SubmissionID: voting.Votes[0].ID})
	expectError(t, bob, gateway.CodeForbidden)

	send(t, alice, gateway.TypeVote, gateway.VoteMessage{SubmissionID: voting.Votes[0].ID})
	next := changed[session.ChoosingDiff](t, expect(t, carol, string(session.EventChoosing)))
	require.NotNil(t, next.RoundWinner)
	assert.Equal(t, voting.Votes[0].Text, next.RoundWinner.Text)
	assert.NotEmpty(t, next.RoundWinner.PlayerID)

	var master string
	scores := 0
	for _, p := range next.Players {
		if p.Master {
			master = p.Nickname
		}
		scores += p.Score
	}
	assert.Equal(t, "bob", master)
	assert.Equal(t, 1, scores)
}

func TestKick(t *testing.T) {
	srv := newServer(t)

	alice, created := srv.create(t, "alice")
	bob, joined := srv.join(t, created.ID, "bob")
	expect(t, alice, gateway.TypePlayerJoin)

	send(t, alice, gateway.TypeKick, gateway.KickMessage{PlayerID: joined.PlayerID})
	expectError(t, bob, gateway.CodeKicked)

	select {
	case <-bob.Done():
	case <-time.After(waitFor):
		t.Fatal("kicked client was not disconnected")
	}
	var ce *websocket.CloseError
	require.ErrorAs(t, bob.Err(), &ce)
	assert.Equal(t, gateway.CloseKicked, ce.Code)
	assert.Equal(t, gateway.ReasonKicked, ce.Text)

	diff := changed[session.PlayersDiff](t, expect(t, alice, gateway.TypePlayerLeave))
	require.Len(t, diff.Players, 1)
	assert.Equal(t, "alice", diff.Players[0].Nickname)
}

func TestDisconnect(t *testing.T) {
	srv := newServer(t)

	alice, created := srv.create(t, "alice")
	bob, _ := srv.join(t, created.ID, "bob")
	expect(t, alice, gateway.TypePlayerJoin)

	require.NoError(t, bob.Close())

	diff := changed[session.PlayersDiff](t, expect(t, alice, gateway.TypePlayerLeave))
	require.Len(t, diff.Players, 1)

	// a new connection may take the nickname back
	_, rejoined := srv.join(t, created.ID, "bob")
	assert.Len(t, rejoined.Players, 2)
}

func TestSessionDisposedWhenEmpty(t *testing.T) {
	srv := newServer(t)

	alice, created := srv.create(t, "alice")
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		return srv.svc.Controller().Connections().Count() == 0
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, srv.clock.BlockUntilContext(t.Context(), 1))
	srv.clock.Advance(srv.rules.SessionEndGrace)

	require.Eventually(t, func() bool { return srv.mgr.Count() == 0 }, waitFor, 10*time.Millisecond)

	c := srv.connect(t)
	send(t, c, gateway.TypeJoinSession, gateway.JoinMessage{SessionID: created.ID, Nickname: "bob"})
	expectError(t, c, gateway.CodeSessionNotFound)
}

func TestHTTPEndpoints(t *testing.T) {
	srv := newServer(t)
	_, created := srv.create(t, "alice")

	tests := []struct {
		name     string
		path     string
		status   int
		validate func(t *testing.T, body map[string]any)
	}{
		{
			name:   "health",
			path:   "/health",
			status: http.StatusOK,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["healthy"])
				assert.Equal(t, true, body["redis_connected"])
			},
		},
		{
			name:   "stats",
			path:   "/stats",
			status: http.StatusOK,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "1", body["server_id"])
				assert.EqualValues(t, 1, body["sessions"])
				assert.EqualValues(t, 1, body["attached_connections"])
			},
		},
		{
			name:   "session info",
			path:   "/sessions/" + created.ID,
			status: http.StatusOK,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, created.ID, body["id"])
				assert.Equal(t, "1", body["owner"])
				assert.Equal(t, string(session.StateWaiting), body["state"])
			},
		},
		{
			name:   "unknown session",
			path:   "/sessions/nope",
			status: http.StatusNotFound,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, gateway.CodeSessionNotFound, body["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.http.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			tt.validate(t, body)
		})
	}
}

func TestHealthReportsRedisOutage(t *testing.T) {
	c := newCluster(t, "")
	srv := c.server("1")
	c.mr.SetError("LOADING redis is loading")

	resp, err := http.Get(srv.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ws := srv.connect(t)
	send(t, ws, gateway.TypeCreate, gateway.CreateMessage{Nickname: "alice"})
	expectError(t, ws, gateway.CodeInternal)
}
