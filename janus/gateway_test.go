/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SpacesCommunity/spaces-go-sdk/media"
	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// recordedMessage is one plugin message the fake gateway received.
type recordedMessage struct {
	SessionID uint64
	HandleID  uint64
	Body      map[string]interface{}
	JSEP      *media.JSEP
}

// Request returns the body's "request" field.
func (m recordedMessage) Request() string {
	s, _ := m.Body["request"].(string)
	return s
}

// fakeGateway is an httptest-backed Janus-style gateway: create/attach
// succeed with sequential ids, plugin messages are recorded and acked, and
// GET long-polls drain a queue of scripted events (or answer keepalive).
type fakeGateway struct {
	srv *httptest.Server

	mu           sync.Mutex
	nextID       uint64
	messages     []recordedMessage
	events       chan *Event
	onMessage    func(msg recordedMessage)
	pollWait     time.Duration
	activePolls  atomic.Int64
	maxPolls     atomic.Int64
	pollRequests atomic.Int64
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{
		events:   make(chan *Event, 64),
		pollWait: 100 * time.Millisecond,
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

// client builds a core client pointed at the fake gateway.
func (g *fakeGateway) client(t *testing.T) *spacessdk.Client {
	core, err := spacessdk.NewClient("test-credential", &spacessdk.Config{
		GatewayURL: g.srv.URL,
	})
	if err != nil {
		t.Fatalf("Unexpected error creating client: %v", err)
	}
	return core
}

// push queues an event for delivery on the next long-poll.
func (g *fakeGateway) push(ev *Event) {
	g.events <- ev
}

// pushRepeated queues a few spaced copies of an event so it cannot slip past
// a waiter that registers just after the triggering request is acked.
// Duplicates go unclaimed and are discarded.
func (g *fakeGateway) pushRepeated(ev *Event) {
	go func() {
		for i := 0; i < 3; i++ {
			g.push(ev)
			time.Sleep(30 * time.Millisecond)
		}
	}()
}

// setOnMessage installs a hook invoked for every recorded plugin message.
func (g *fakeGateway) setOnMessage(hook func(msg recordedMessage)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onMessage = hook
}

// recorded returns a copy of all plugin messages received so far.
func (g *fakeGateway) recorded() []recordedMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]recordedMessage, len(g.messages))
	copy(out, g.messages)
	return out
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		g.handlePoll(w)
		return
	}

	var req struct {
		Janus  string                 `json:"janus"`
		Body   map[string]interface{} `json:"body"`
		JSEP   *media.JSEP            `json:"jsep"`
		Plugin string                 `json:"plugin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch req.Janus {
	case "create", "attach":
		g.mu.Lock()
		g.nextID++
		id := g.nextID
		g.mu.Unlock()
		writeJSON(w, &Event{Janus: "success", Data: &EventData{ID: id}})
	case "message":
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sessionID, _ := strconv.ParseUint(parts[0], 10, 64)
		handleID, _ := strconv.ParseUint(parts[1], 10, 64)
		msg := recordedMessage{
			SessionID: sessionID,
			HandleID:  handleID,
			Body:      req.Body,
			JSEP:      req.JSEP,
		}
		g.mu.Lock()
		g.messages = append(g.messages, msg)
		hook := g.onMessage
		g.mu.Unlock()
		if hook != nil {
			hook(msg)
		}
		writeJSON(w, &Event{Janus: "ack"})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (g *fakeGateway) handlePoll(w http.ResponseWriter) {
	g.pollRequests.Add(1)
	active := g.activePolls.Add(1)
	defer g.activePolls.Add(-1)
	for {
		max := g.maxPolls.Load()
		if active <= max || g.maxPolls.CompareAndSwap(max, active) {
			break
		}
	}

	select {
	case ev := <-g.events:
		writeJSON(w, ev)
	case <-time.After(g.pollWait):
		writeJSON(w, &Event{Janus: "keepalive"})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// joinedEvent builds a videoroom "joined" confirmation.
func joinedEvent(publisherID uint64) *Event {
	return &Event{
		Janus: "event",
		PluginData: &PluginData{
			Plugin: PluginVideoRoom,
			Data:   RoomData{VideoRoom: "joined", ID: publisherID},
		},
	}
}

// publishersEvent builds a room event advertising the given publishers.
func publishersEvent(pubs ...Publisher) *Event {
	return &Event{
		Janus: "event",
		PluginData: &PluginData{
			Plugin: PluginVideoRoom,
			Data:   RoomData{VideoRoom: "event", Publishers: pubs},
		},
	}
}

// attachedEvent builds a subscriber "attached" event carrying an SDP offer,
// attributed to the given handle.
func attachedEvent(handleID uint64, sdp string) *Event {
	return &Event{
		Janus:  "event",
		Sender: handleID,
		PluginData: &PluginData{
			Plugin: PluginVideoRoom,
			Data:   RoomData{VideoRoom: "attached"},
		},
		JSEP: &media.JSEP{Type: media.JSEPOffer, SDP: sdp},
	}
}

// answerEvent builds an event carrying an SDP answer.
func answerEvent(sdp string) *Event {
	return &Event{
		Janus: "event",
		PluginData: &PluginData{
			Plugin: PluginVideoRoom,
			Data:   RoomData{VideoRoom: "event"},
		},
		JSEP: &media.JSEP{Type: media.JSEPAnswer, SDP: sdp},
	}
}
