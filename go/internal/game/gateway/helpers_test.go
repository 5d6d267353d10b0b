package gateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/evilcards/go/clients/game_client"
	"github.com/mcdev12/evilcards/go/internal/game/deck"
	"github.com/mcdev12/evilcards/go/internal/game/gateway"
	"github.com/mcdev12/evilcards/go/internal/game/manager"
	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/mcdev12/evilcards/go/internal/game/session"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type testServer struct {
	svc   *gateway.Service
	mgr   *manager.Manager
	http  *httptest.Server
	clock *clockwork.FakeClock
	rules session.Rules
}

// cluster is a set of game servers sharing one routing store and, optionally, one NATS server
type cluster struct {
	t       *testing.T
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	natsURL string
	clock   *clockwork.FakeClock
	rules   session.Rules
}

func newCluster(t *testing.T, natsURL string) *cluster {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &cluster{
		t:       t,
		mr:      mr,
		rdb:     rdb,
		natsURL: natsURL,
		clock:   clockwork.NewFakeClock(),
		rules:   session.DefaultRules(),
	}
}

func (c *cluster) server(serverID string) *testServer {
	t := c.t
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	factory, err := session.NewFactory(c.rules, deck.Default(), session.WithClock(c.clock))
	require.NoError(t, err)

	store := relay.NewStore(c.rdb, time.Hour)
	mgr := manager.New(ctx, factory, store, serverID)

	var rel *relay.Relay
	if c.natsURL != "" {
		nc, err := nats.Connect(c.natsURL)
		require.NoError(t, err)
		t.Cleanup(nc.Close)
		rel = relay.New(nc, relay.Config{Subject: "test.relay", ServerID: serverID, Timeout: time.Second})
	}

	svc := gateway.NewService(gateway.DefaultConfig(), mgr, store, rel)
	require.NoError(t, svc.Start())

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		svc.Stop(context.Background())
		srv.Close()
	})

	return &testServer{svc: svc, mgr: mgr, http: srv, clock: c.clock, rules: c.rules}
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	return newCluster(t, "").server("1")
}

func (s *testServer) connect(t *testing.T) *game_client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/session"
	c, err := game_client.Dial(ctx, url, game_client.Options{MaxReconnects: -1})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func expect(t *testing.T, c *game_client.Client, msgType string) gateway.Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	msg, err := c.WaitFor(ctx, msgType)
	require.NoError(t, err, "waiting for %s", msgType)
	return msg
}

func expectError(t *testing.T, c *game_client.Client, code string) {
	t.Helper()
	msg := expect(t, c, gateway.TypeError)
	var details gateway.ErrorDetails
	require.NoError(t, json.Unmarshal(msg.Details, &details))
	require.Equal(t, code, details.Code)
}

// changed decodes the changedState of a state message
func changed[T any](t *testing.T, msg gateway.Outbound) T {
	t.Helper()
	var details struct {
		ChangedState T `json:"changedState"`
	}
	require.NoError(t, json.Unmarshal(msg.Details, &details), "decoding %s", msg.Type)
	return details.ChangedState
}

// create opens a session hosted by a new client and returns the client and the session snapshot
func (s *testServer) create(t *testing.T, nickname string) (*game_client.Client, session.Snapshot) {
	t.Helper()
	c := s.connect(t)
	require.NoError(t, c.Create(nickname, 1))
	return c, changed[session.Snapshot](t, expect(t, c, gateway.TypeCreate))
}

func (s *testServer) join(t *testing.T, sessionID, nickname string) (*game_client.Client, session.Snapshot) {
	t.Helper()
	c := s.connect(t)
	require.NoError(t, c.Join(sessionID, nickname, 2))
	return c, changed[session.Snapshot](t, expect(t, c, gateway.TypeJoin))
}

func send(t *testing.T, c *game_client.Client, msgType string, details any) {
	t.Helper()
	require.NoError(t, c.Send(msgType, details))
}
