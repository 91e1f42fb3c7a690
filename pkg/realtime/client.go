// Package realtime implements backend.Realtime over a websocket
// connection to the backend's change-feed endpoint. Topics are joined and
// left with a small join/leave/reply framing; row changes arrive as
// "postgres_changes" frames scoped to the joined topic.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ndanh/guildchat/pkg/backend"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

const (
	eventJoin    = "phx_join"
	eventLeave   = "phx_leave"
	eventReply   = "phx_reply"
	eventChanges = "postgres_changes"
)

type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type replyPayload struct {
	Status string `json:"status"`
}

type joinPayload struct {
	Config joinConfig `json:"config"`
}

type joinConfig struct {
	PostgresChanges []backend.ChangeFilter `json:"postgres_changes"`
}

// Client is a websocket realtime transport. Zero value is not usable;
// construct with New.
type Client struct {
	wsURL  string
	apikey string

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan []byte
	token    string
	state    backend.ConnState
	channels map[string]*channel
}

func New(wsURL, apikey string) *Client {
	return &Client{
		wsURL:    wsURL,
		apikey:   apikey,
		state:    backend.ConnDisconnected,
		channels: make(map[string]*channel),
	}
}

// SetAuth attaches the bearer token used when the connection is dialed.
func (c *Client) SetAuth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) State() backend.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the websocket endpoint. Calling Connect on an already
// connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == backend.ConnConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = backend.ConnConnecting
	token := c.token
	c.mu.Unlock()

	u, err := url.Parse(c.wsURL)
	if err != nil {
		return fmt.Errorf("realtime: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("apikey", c.apikey)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		c.mu.Lock()
		c.state = backend.ConnDisconnected
		c.mu.Unlock()
		return fmt.Errorf("realtime: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, 256)
	c.state = backend.ConnConnected
	send := c.send
	c.mu.Unlock()

	go c.readPump(conn)
	go c.writePump(conn, send)
	return nil
}

// readPump dispatches inbound frames until the connection drops, then
// marks every joined channel errored.
func (c *Client) readPump(conn *websocket.Conn) {
	defer c.teardown(conn)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: read: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Printf("realtime: bad frame: %v", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	c.mu.Lock()
	ch := c.channels[f.Topic]
	c.mu.Unlock()
	if ch == nil {
		return
	}

	switch f.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			return
		}
		ch.onReply(f.Ref, reply.Status)
	case eventChanges:
		var change backend.Change
		if err := json.Unmarshal(f.Payload, &change); err != nil {
			log.Printf("realtime: bad change payload on %s: %v", f.Topic, err)
			return
		}
		ch.deliver(change)
	}
}

func (c *Client) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) teardown(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = backend.ConnDisconnected
		close(c.send)
		c.send = nil
		for _, ch := range c.channels {
			ch.setState(backend.ChannelErrored)
		}
	}
	c.mu.Unlock()
}

func (c *Client) push(f frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != backend.ConnConnected || c.send == nil {
		return errors.New("realtime: not connected")
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return errors.New("realtime: send buffer full")
	}
}

// Channel returns the channel bound to topic, creating it when absent.
// Creating a channel does not join it; call Subscribe.
func (c *Client) Channel(topic string) backend.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[topic]; ok {
		return ch
	}
	ch := &channel{client: c, topic: topic, state: backend.ChannelClosed}
	c.channels[topic] = ch
	return ch
}

// RemoveChannel leaves the topic and forgets the channel. Unknown or
// already-removed channels are a no-op.
func (c *Client) RemoveChannel(ctx context.Context, bch backend.Channel) error {
	if bch == nil {
		return nil
	}
	ch, ok := bch.(*channel)
	if !ok {
		return fmt.Errorf("realtime: foreign channel %q", bch.Topic())
	}

	c.mu.Lock()
	current, present := c.channels[ch.topic]
	if present && current == ch {
		delete(c.channels, ch.topic)
	} else {
		present = false
	}
	c.mu.Unlock()
	if !present {
		return nil
	}

	ch.setState(backend.ChannelClosed)
	// Best effort; the server drops the topic on disconnect anyway.
	if err := c.push(frame{Topic: ch.topic, Event: eventLeave, Ref: uuid.NewString(), Payload: json.RawMessage("{}")}); err != nil {
		log.Printf("realtime: leave %s: %v", ch.topic, err)
	}
	return nil
}

var _ backend.Realtime = (*Client)(nil)
