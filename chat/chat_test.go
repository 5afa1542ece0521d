/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// chatServer is an httptest websocket endpoint that records the credential
// header and lets tests send raw frames to the client.
type chatServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	gotCreds chan string
}

func newChatServer(t *testing.T) *chatServer {
	s := &chatServer{
		conns:    make(chan *websocket.Conn, 4),
		gotCreds: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.gotCreds <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// conn returns the server side of the accepted connection.
func (s *chatServer) conn(t *testing.T) *websocket.Conn {
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(time.Second):
		t.Fatal("Expected a websocket connection")
		return nil
	}
}

func newConnectedClient(t *testing.T) (*Client, *websocket.Conn) {
	s := newChatServer(t)
	core, err := spacessdk.NewClient("chat-token", &spacessdk.Config{
		ChatURL: s.wsURL(),
	})
	if err != nil {
		t.Fatalf("Unexpected error creating core client: %v", err)
	}

	client := New(core, nil)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case cred := <-s.gotCreds:
		if cred != "chat-token" {
			t.Errorf("Expected the credential header on the dial, got %q", cred)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected the dial to reach the server")
	}
	return client, s.conn(t)
}

func TestConnectRequiresChatURL(t *testing.T) {
	core, err := spacessdk.NewClient("token", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := New(core, nil).Connect(); err == nil {
		t.Error("Expected Connect without a chat URL to fail")
	}
}

func TestReceiveTypedEvents(t *testing.T) {
	client, server := newConnectedClient(t)

	speakers := make(chan SpeakerRequest, 1)
	occupancy := make(chan OccupancyUpdate, 1)
	mutes := make(chan MuteStateChanged, 1)
	reactions := make(chan GuestReaction, 1)
	client.On(EventSpeakerRequest, func(event interface{}) {
		speakers <- event.(SpeakerRequest)
	})
	client.On(EventOccupancyUpdate, func(event interface{}) {
		occupancy <- event.(OccupancyUpdate)
	})
	client.On(EventMuteStateChanged, func(event interface{}) {
		mutes <- event.(MuteStateChanged)
	})
	client.On(EventGuestReaction, func(event interface{}) {
		reactions <- event.(GuestReaction)
	})

	send := func(raw string) {
		if err := server.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("Server write failed: %v", err)
		}
	}

	t.Run("SpeakerRequest", func(t *testing.T) {
		send(`{"kind":"speaker_request","payload":{"userId":"alice","displayName":"Alice","sessionUuid":"u-1"}}`)
		select {
		case req := <-speakers:
			if req.UserID != "alice" || req.DisplayName != "Alice" || req.SessionUUID != "u-1" {
				t.Errorf("Unexpected payload: %+v", req)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected a speaker request event")
		}
	})

	t.Run("OccupancyUpdate", func(t *testing.T) {
		send(`{"kind":"occupancy_update","payload":{"occupancy":12,"totalParticipants":40}}`)
		select {
		case up := <-occupancy:
			if up.Occupancy != 12 || up.TotalParticipants != 40 {
				t.Errorf("Unexpected payload: %+v", up)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected an occupancy event")
		}
	})

	t.Run("MuteStateChanged", func(t *testing.T) {
		send(`{"kind":"mute_state_changed","payload":{"userId":"bob","muted":true}}`)
		select {
		case m := <-mutes:
			if m.UserID != "bob" || !m.Muted {
				t.Errorf("Unexpected payload: %+v", m)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected a mute event")
		}
	})

	t.Run("GuestReaction", func(t *testing.T) {
		send(`{"kind":"guest_reaction","payload":{"userId":"carol","emoji":"fire"}}`)
		select {
		case re := <-reactions:
			if re.UserID != "carol" || re.Emoji != "fire" {
				t.Errorf("Unexpected payload: %+v", re)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected a reaction event")
		}
	})
}

func TestMalformedAndUnknownMessagesAreDropped(t *testing.T) {
	client, server := newConnectedClient(t)

	speakers := make(chan SpeakerRequest, 1)
	client.On(EventSpeakerRequest, func(event interface{}) {
		speakers <- event.(SpeakerRequest)
	})

	frames := []string{
		`not json at all`,
		`{"kind":"unknown_kind","payload":{}}`,
		`{"kind":"speaker_request","payload":"not an object"}`,
		`{"kind":"speaker_request","payload":{"userId":"alice"}}`,
	}
	for _, raw := range frames {
		if err := server.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("Server write failed: %v", err)
		}
	}

	// Only the final well-formed frame produces an event.
	select {
	case req := <-speakers:
		if req.UserID != "alice" {
			t.Errorf("Expected the well-formed frame, got %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected the well-formed frame to be delivered")
	}
	select {
	case req := <-speakers:
		t.Errorf("Expected malformed frames to be dropped, got %+v", req)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectTwiceIsANoop(t *testing.T) {
	client, _ := newConnectedClient(t)
	if err := client.Connect(); err != nil {
		t.Errorf("Expected a second Connect to be a no-op, got %v", err)
	}
	if !client.IsConnected() {
		t.Error("Expected the client to stay connected")
	}
}

func TestClose(t *testing.T) {
	client, _ := newConnectedClient(t)

	if !client.IsConnected() {
		t.Fatal("Expected the client to be connected")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("Expected the client to report disconnected")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Expected a second Close to be a no-op, got %v", err)
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	s := newChatServer(t)
	core, err := spacessdk.NewClient("chat-token", &spacessdk.Config{
		ChatURL: s.wsURL(),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	client := New(core, &Config{
		PingInterval:     time.Second,
		PongTimeout:      time.Second,
		WriteTimeout:     time.Second,
		BackoffTimeReset: 20 * time.Millisecond,
		BackoffTimeMax:   100 * time.Millisecond,
		MaxRetries:       5,
	})
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	speakers := make(chan SpeakerRequest, 1)
	client.On(EventSpeakerRequest, func(event interface{}) {
		speakers <- event.(SpeakerRequest)
	})

	// Kill the first connection server-side; the client redials on its own.
	first := s.conn(t)
	first.Close()

	second := s.conn(t)
	if err := second.WriteMessage(websocket.TextMessage,
		[]byte(`{"kind":"speaker_request","payload":{"userId":"alice"}}`)); err != nil {
		t.Fatalf("Server write failed: %v", err)
	}

	// Events flow again over the new connection.
	select {
	case req := <-speakers:
		if req.UserID != "alice" {
			t.Errorf("Unexpected payload: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected events to resume after the reconnect")
	}
	if !client.IsConnected() {
		t.Error("Expected the client to report connected after the reconnect")
	}
}

func TestServerCloseDisconnectsClient(t *testing.T) {
	client, server := newConnectedClient(t)

	server.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !client.IsConnected() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Expected the client to notice the server closing")
}
