package game_client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/evilcards/go/clients/game_client"
	"github.com/mcdev12/evilcards/go/internal/game/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldReconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, false},
		{"kicked", &websocket.CloseError{Code: gateway.CloseKicked, Text: gateway.ReasonKicked}, false},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, false},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, true},
		{"transport error", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, game_client.ShouldReconnect(tt.err))
		})
	}
}

// fakeServer accepts websocket connections and lets each test script them
type fakeServer struct {
	url     string
	accepts atomic.Int32
	inbound chan gateway.Outbound
}

func newFakeServer(t *testing.T, script func(n int32, conn *websocket.Conn)) *fakeServer {
	t.Helper()
	fs := &fakeServer{inbound: make(chan gateway.Outbound, 16)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := fs.accepts.Add(1)
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var msg gateway.Outbound
				if json.Unmarshal(data, &msg) == nil {
					fs.inbound <- msg
				}
			}
		}()
		script(n, conn)
	}))
	t.Cleanup(srv.Close)

	fs.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return fs
}

func (fs *fakeServer) next(t *testing.T) gateway.Outbound {
	t.Helper()
	select {
	case msg := <-fs.inbound:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message reached the server")
		return gateway.Outbound{}
	}
}

func dial(t *testing.T, url string) *game_client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := game_client.Dial(ctx, url, game_client.Options{MaxReconnects: 3, ReconnectWait: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitDone(t *testing.T, c *game_client.Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func snapshot(sessionID string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":    gateway.TypeCreate,
		"details": map[string]any{"changedState": map[string]any{"id": sessionID}},
	})
	return data
}

func TestClient_ReconnectRejoins(t *testing.T) {
	fs := newFakeServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			time.Sleep(50 * time.Millisecond)
			conn.WriteMessage(websocket.TextMessage, snapshot("abc"))
			time.Sleep(50 * time.Millisecond)
			conn.Close()
		}
	})

	c := dial(t, fs.url)
	require.NoError(t, c.Create("alice", 3))
	assert.Equal(t, gateway.TypeCreate, fs.next(t).Type)

	rejoin := fs.next(t)
	require.Equal(t, gateway.TypeJoinSession, rejoin.Type)

	var details gateway.JoinMessage
	require.NoError(t, json.Unmarshal(rejoin.Details, &details))
	assert.Equal(t, gateway.JoinMessage{SessionID: "abc", Nickname: "alice", AvatarID: 3}, details)
	assert.Equal(t, int32(2), fs.accepts.Load())
}

func TestClient_FinalCloses(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
	}{
		{"kicked", gateway.CloseKicked, gateway.ReasonKicked},
		{"normal closure", websocket.CloseNormalClosure, ""},
		{"server shutting down", websocket.CloseGoingAway, "server shutting down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t, func(_ int32, conn *websocket.Conn) {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(tt.code, tt.reason))
			})

			c := dial(t, fs.url)
			waitDone(t, c)

			var ce *websocket.CloseError
			require.ErrorAs(t, c.Err(), &ce)
			assert.Equal(t, tt.code, ce.Code)

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, int32(1), fs.accepts.Load())
		})
	}
}

func TestClient_GivesUp(t *testing.T) {
	fs := newFakeServer(t, func(_ int32, conn *websocket.Conn) {
		conn.Close()
	})

	c := dial(t, fs.url)
	waitDone(t, c)

	require.Error(t, c.Err())
	assert.Equal(t, int32(4), fs.accepts.Load())
}

func TestClient_CloseStopsWithoutError(t *testing.T) {
	fs := newFakeServer(t, func(int32, *websocket.Conn) {})

	c := dial(t, fs.url)
	require.NoError(t, c.Close())
	waitDone(t, c)

	assert.NoError(t, c.Err())
	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, game_client.ErrClosed)
}
