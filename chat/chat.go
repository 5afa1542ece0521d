/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package chat is the control-plane websocket client. It turns raw chat
// envelopes into typed events: speaker requests, occupancy updates, mute
// state changes, and guest reactions.
package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// EventKind identifies the type of control-plane event.
type EventKind string

const (
	EventSpeakerRequest   EventKind = "speaker_request"
	EventOccupancyUpdate  EventKind = "occupancy_update"
	EventMuteStateChanged EventKind = "mute_state_changed"
	EventGuestReaction    EventKind = "guest_reaction"
)

// SpeakerRequest is emitted when a listener asks to speak.
type SpeakerRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	SessionUUID string `json:"sessionUuid"`
}

// OccupancyUpdate is emitted when the room occupancy changes.
type OccupancyUpdate struct {
	Occupancy         int `json:"occupancy"`
	TotalParticipants int `json:"totalParticipants"`
}

// MuteStateChanged is emitted when a speaker mutes or unmutes.
type MuteStateChanged struct {
	UserID string `json:"userId"`
	Muted  bool   `json:"muted"`
}

// GuestReaction is emitted when a guest sends an emoji reaction.
type GuestReaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// envelope is the raw wire shape of a control-plane message.
type envelope struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is a callback for one decoded control-plane event.
type Handler func(event interface{})

// Config holds the configuration for the chat client.
type Config struct {
	// PingInterval between ping messages. Default: 30s.
	PingInterval time.Duration

	// PongTimeout for receiving a pong response. Default: 10s.
	PongTimeout time.Duration

	// WriteTimeout for outbound control frames. Default: 10s.
	WriteTimeout time.Duration

	// BackoffTimeReset is the initial delay before a reconnect attempt.
	// Default: 1s.
	BackoffTimeReset time.Duration

	// BackoffTimeMax caps the delay between reconnect attempts. Default: 32s.
	BackoffTimeMax time.Duration

	// MaxRetries is the number of reconnect attempts before giving up.
	// Default: 3.
	MaxRetries int
}

// DefaultConfig returns the default configuration for the chat client.
func DefaultConfig() *Config {
	return &Config{
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		BackoffTimeReset: 1 * time.Second,
		BackoffTimeMax:   32 * time.Second,
		MaxRetries:       3,
	}
}

// Client is the control-plane websocket client.
type Client struct {
	core   *spacessdk.Client
	config *Config
	logger spacessdk.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	handlers  map[EventKind][]Handler
	closeCh   chan struct{}
}

// New creates a new chat client.
func New(core *spacessdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BackoffTimeReset == 0 {
		config.BackoffTimeReset = 1 * time.Second
	}
	if config.BackoffTimeMax == 0 {
		config.BackoffTimeMax = 32 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &Client{
		core:     core,
		config:   config,
		logger:   core.GetLogger(),
		handlers: make(map[EventKind][]Handler),
		closeCh:  make(chan struct{}),
	}
}

// On registers a handler for one event kind.
func (c *Client) On(kind EventKind, handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

// Connect dials the configured chat URL with the credential header and
// starts the read and keepalive loops. A connection lost later is redialed
// with exponential backoff; a Close by the caller is final.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.mu.Unlock()

	chatURL := c.core.Config.ChatURL
	if chatURL == "" {
		return fmt.Errorf("chat URL is not configured")
	}

	conn, err := c.dial(chatURL)
	if err != nil {
		return err
	}
	c.start(conn)
	return nil
}

func (c *Client) dial(chatURL string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(c.core.Config.AuthorizationHeader, c.core.GetCredential())

	conn, resp, err := websocket.DefaultDialer.Dial(chatURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("chat dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("chat dial failed: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PingInterval + c.config.PongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(c.config.PingInterval + c.config.PongTimeout))
	return conn, nil
}

// start records the connection and launches its loops. A Close that raced
// the dial wins: the fresh connection is discarded.
func (c *Client) start(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.closeCh = make(chan struct{})
	closeCh := c.closeCh
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn, closeCh)

	c.logger.Printf("chat: connected to %s", c.core.Config.ChatURL)
}

// IsConnected reports whether the websocket is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close shuts down the connection, stops the loops, and cancels any pending
// reconnect. Final: the client stays closed until the next explicit Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	conn := c.conn
	c.conn = nil
	if wasConnected {
		close(c.closeCh)
	}
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionError(conn, err)
			return
		}
		c.handleMessage(data)
	}
}

// handleConnectionError tears down a lost connection and kicks off the
// reconnect loop, unless the caller already closed the client.
func (c *Client) handleConnectionError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	close(c.closeCh)
	c.mu.Unlock()

	conn.Close()
	c.logger.Printf("chat: connection lost: %v", err)
	go c.reconnect()
}

// reconnect redials with exponential backoff until it succeeds, the retry
// budget runs out, or the client is closed.
func (c *Client) reconnect() {
	backoff := c.config.BackoffTimeReset
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.config.BackoffTimeMax {
			backoff = c.config.BackoffTimeMax
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		conn, err := c.dial(c.core.Config.ChatURL)
		if err != nil {
			c.logger.Printf("chat: reconnect attempt %d failed: %v", attempt, err)
			continue
		}
		c.start(conn)
		return
	}
	c.logger.Printf("chat: giving up after %d reconnect attempts", c.config.MaxRetries)
}

// handleMessage decodes one envelope and emits the typed event. Unknown
// kinds and malformed payloads are dropped.
func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Printf("chat: dropping malformed envelope: %v", err)
		return
	}

	var event interface{}
	switch env.Kind {
	case EventSpeakerRequest:
		var payload SpeakerRequest
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		event = payload
	case EventOccupancyUpdate:
		var payload OccupancyUpdate
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		event = payload
	case EventMuteStateChanged:
		var payload MuteStateChanged
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		event = payload
	case EventGuestReaction:
		var payload GuestReaction
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		event = payload
	default:
		return
	}

	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers[env.Kind]))
	copy(handlers, c.handlers[env.Kind])
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, closeCh chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closeCh:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.handleConnectionError(conn, err)
				return
			}
		}
	}
}
