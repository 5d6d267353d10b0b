package game_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/evilcards/go/internal/game/gateway"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxReconnects = 5
	DefaultReconnectWait = 500 * time.Millisecond
)

// ErrClosed is returned once the client gave up on the connection
var ErrClosed = errors.New("game client closed")

// Options tune the client
type Options struct {
	// MaxReconnects bounds the attempts made after an unexpected close.
	// Zero selects DefaultMaxReconnects, a negative value disables reconnects.
	MaxReconnects int
	// ReconnectWait is multiplied by the attempt number between attempts
	ReconnectWait time.Duration
	Dialer        *websocket.Dialer
	Header        http.Header
}

func (o Options) withDefaults() Options {
	if o.MaxReconnects == 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	if o.ReconnectWait == 0 {
		o.ReconnectWait = DefaultReconnectWait
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// identity is re-presented to the server after a reconnect
type identity struct {
	sessionID string
	nickname  string
	avatarID  int
}

// Client is a player connection to a game server.
// Received messages are read from Messages, which is closed once the client stops.
type Client struct {
	url  string
	opts Options

	mu       sync.Mutex
	conn     *websocket.Conn
	identity identity
	closing  bool
	err      error

	messages chan gateway.Outbound
	done     chan struct{}

	// attempts counts reconnects since the server last sent a message
	attempts int
}

// Dial connects to the /session endpoint at url
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	conn, _, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{
		url:      url,
		opts:     opts,
		conn:     conn,
		messages: make(chan gateway.Outbound, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop(conn)
	return c, nil
}

// ShouldReconnect reports whether a connection that failed with err may be retried.
// Graceful closes (1000, 1001) and kicks are final.
func ShouldReconnect(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, gateway.CloseKicked:
			return false
		}
	}
	return true
}

// Messages returns the stream of server messages
func (c *Client) Messages() <-chan gateway.Outbound {
	return c.messages
}

// Done is closed once the client stopped for good
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped, nil after Close
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send writes one message
func (c *Client) Send(msgType string, details any) error {
	data, err := gateway.Encode(msgType, details)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Create asks the server for a new session with this client as host
func (c *Client) Create(nickname string, avatarID int) error {
	c.remember(identity{nickname: nickname, avatarID: avatarID})
	return c.Send(gateway.TypeCreate, gateway.CreateMessage{Nickname: nickname, AvatarID: avatarID})
}

// Join enters an existing session
func (c *Client) Join(sessionID, nickname string, avatarID int) error {
	c.remember(identity{sessionID: sessionID, nickname: nickname, avatarID: avatarID})
	return c.Send(gateway.TypeJoinSession, gateway.JoinMessage{SessionID: sessionID, Nickname: nickname, AvatarID: avatarID})
}

func (c *Client) remember(id identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

// Next waits for the next message
func (c *Client) Next(ctx context.Context) (gateway.Outbound, error) {
	select {
	case msg, ok := <-c.messages:
		if !ok {
			return gateway.Outbound{}, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return gateway.Outbound{}, ctx.Err()
	}
}

// WaitFor skips messages until one of the given types arrives
func (c *Client) WaitFor(ctx context.Context, types ...string) (gateway.Outbound, error) {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return msg, err
		}
		for _, t := range types {
			if msg.Type == t {
				return msg, nil
			}
		}
	}
}

// Close ends the connection with a normal closure. The client does not reconnect afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil
	}
	c.closing = true
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil {
		c.conn.Close()
	}
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		err := c.read(conn)
		conn.Close()

		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()

		if closing || c.opts.MaxReconnects < 0 || !ShouldReconnect(err) {
			c.stop(err, closing)
			return
		}

		next, rerr := c.reconnect()
		if rerr != nil {
			c.stop(rerr, false)
			return
		}
		conn = next
	}
}

func (c *Client) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg gateway.Outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("dropping malformed server message")
			continue
		}
		c.attempts = 0
		if msg.Type == gateway.TypeCreate || msg.Type == gateway.TypeJoin {
			c.trackSession(msg)
		}
		c.messages <- msg
	}
}

func (c *Client) trackSession(msg gateway.Outbound) {
	var details struct {
		ChangedState struct {
			ID string `json:"id"`
		} `json:"changedState"`
	}
	if err := json.Unmarshal(msg.Details, &details); err != nil || details.ChangedState.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity.sessionID = details.ChangedState.ID
}

// reconnect redials with linear backoff and re-presents the remembered identity.
// Attempts are only reset once the server sends something on a new connection.
func (c *Client) reconnect() (*websocket.Conn, error) {
	c.mu.Lock()
	c.conn = nil
	id := c.identity
	c.mu.Unlock()

	var lastErr error
	for c.attempts < c.opts.MaxReconnects {
		c.attempts++
		time.Sleep(time.Duration(c.attempts) * c.opts.ReconnectWait)

		conn, _, err := c.opts.Dialer.Dial(c.url, c.opts.Header)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", c.attempts).Str("url", c.url).Msg("reconnect failed")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		closing := c.closing
		c.mu.Unlock()
		if closing {
			conn.Close()
			return nil, ErrClosed
		}

		if id.sessionID != "" {
			if err := c.Join(id.sessionID, id.nickname, id.avatarID); err != nil {
				lastErr = err
				conn.Close()
				continue
			}
		}
		log.Info().Int("attempt", c.attempts).Str("session_id", id.sessionID).Msg("reconnected")
		return conn, nil
	}
	if lastErr == nil {
		lastErr = ErrClosed
	}
	return nil, fmt.Errorf("gave up after %d reconnect attempts: %w", c.opts.MaxReconnects, lastErr)
}

func (c *Client) stop(err error, closing bool) {
	c.mu.Lock()
	c.conn = nil
	if !closing {
		c.err = err
	}
	c.mu.Unlock()

	close(c.messages)
	close(c.done)
}
