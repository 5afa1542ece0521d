/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SpacesCommunity/spaces-go-sdk/media"
	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// State is a step of the publisher handshake state machine.
type State string

const (
	StateUnattached     State = "unattached"
	StateSessionCreated State = "session_created"
	StateHandleAttached State = "handle_attached"
	StateRoomCreated    State = "room_created"
	StateJoined         State = "joined"
	StateConfiguring    State = "configuring"
	StatePublished      State = "published"
)

// SessionConfig holds timeouts for the room protocol.
type SessionConfig struct {
	// PollInterval is the fixed delay between event polls.
	// Default: DefaultPollInterval.
	PollInterval time.Duration

	// JoinTimeout bounds the wait for the asynchronous "joined"
	// confirmation. Default: 10s.
	JoinTimeout time.Duration

	// AnswerTimeout bounds the wait for the SDP answer after configure.
	// Default: 10s.
	AnswerTimeout time.Duration
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		PollInterval:  DefaultPollInterval,
		JoinTimeout:   10 * time.Second,
		AnswerTimeout: 10 * time.Second,
	}
}

// Session drives the ordered publisher handshake against the gateway:
//
//	Unattached → SessionCreated → HandleAttached → RoomCreated →
//	Joined(publisherID) → Configuring → Published
//
// Transitions are strictly sequential; each step's HTTP call must complete
// before the next is issued, and Joined is reached only after the correlator
// confirms a "joined" event — the HTTP ack alone does not confirm a join.
// A guest participant skips RoomCreated (the room already exists).
//
// Any step failing is fatal to the handshake and propagated to the caller;
// there is no automatic retry — callers restart the whole handshake.
type Session struct {
	transport *Transport
	engine    media.Engine
	config    *SessionConfig
	logger    spacessdk.Logger

	mu          sync.Mutex
	state       State
	sessionID   uint64
	handleID    uint64
	publisherID uint64
	roomID      string
	correlator  *Correlator
	pc          media.PeerConnection

	// answerCh receives the SDP answer for the in-flight configure, routed
	// through the correlator's answer side-channel.
	answerCh chan *media.JSEP
}

// NewSession creates an unattached Session.
func NewSession(transport *Transport, engine media.Engine, config *SessionConfig) *Session {
	if config == nil {
		config = DefaultSessionConfig()
	}
	return &Session{
		transport: transport,
		engine:    engine,
		config:    config,
		logger:    transport.logger,
		state:     StateUnattached,
	}
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the gateway session id, or 0 before Connect.
func (s *Session) SessionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// HandleID returns the publisher handle id, or 0 before AttachPublisher.
func (s *Session) HandleID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleID
}

// PublisherID returns the id assigned by the "joined" confirmation, or 0.
func (s *Session) PublisherID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisherID
}

// RoomID returns the room this session joined.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Correlator returns the session's event correlator, available after
// Connect. Subscriber negotiations share it.
func (s *Session) Correlator() *Correlator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correlator
}

// Connect creates the gateway session and starts the poll loop. The poll
// loop itself keeps the session alive on the gateway; no separate keepalive
// request is needed.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.requireState(StateUnattached); err != nil {
		return err
	}

	sessionID, err := s.transport.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	correlator := NewCorrelator(s.transport, sessionID, s.config.PollInterval)
	correlator.OnAnswer(s.routeAnswer)

	s.mu.Lock()
	s.sessionID = sessionID
	s.correlator = correlator
	s.state = StateSessionCreated
	s.mu.Unlock()

	correlator.Start()
	s.logger.Printf("janus: created session %d", sessionID)
	return nil
}

// AttachPublisher attaches the publisher handle. Exactly one exists per
// client; it lives for the client's lifetime.
func (s *Session) AttachPublisher(ctx context.Context) error {
	if err := s.requireState(StateSessionCreated); err != nil {
		return err
	}

	handleID, err := s.transport.Attach(ctx, s.SessionID())
	if err != nil {
		return fmt.Errorf("attach publisher handle: %w", err)
	}

	s.mu.Lock()
	s.handleID = handleID
	s.state = StateHandleAttached
	s.mu.Unlock()

	s.logger.Printf("janus: attached publisher handle %d", handleID)
	return nil
}

// CreateRoom creates the room before joining it. Guests joining a room
// created elsewhere skip this step.
func (s *Session) CreateRoom(ctx context.Context, roomID string) error {
	if err := s.requireState(StateHandleAttached); err != nil {
		return err
	}

	body := map[string]interface{}{
		"request":          "create",
		"room":             roomID,
		"audiolevel_event": true,
	}
	if _, err := s.transport.Message(ctx, s.SessionID(), s.HandleID(), body, nil); err != nil {
		return fmt.Errorf("create room %q: %w", roomID, err)
	}

	s.mu.Lock()
	s.roomID = roomID
	s.state = StateRoomCreated
	s.mu.Unlock()

	s.logger.Printf("janus: created room %q", roomID)
	return nil
}

// Join joins the room as a publisher and blocks until the asynchronous
// "joined" confirmation arrives through the poll stream.
func (s *Session) Join(ctx context.Context, roomID, display string) error {
	s.mu.Lock()
	if s.state != StateHandleAttached && s.state != StateRoomCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("join: invalid state %q", state)
	}
	s.roomID = roomID
	correlator := s.correlator
	s.mu.Unlock()

	body := map[string]interface{}{
		"request": "join",
		"ptype":   "publisher",
		"room":    roomID,
		"display": display,
	}
	if _, err := s.transport.Message(ctx, s.SessionID(), s.HandleID(), body, nil); err != nil {
		return fmt.Errorf("join room %q: %w", roomID, err)
	}

	ev, err := correlator.WaitFor(ctx, func(ev *Event) bool {
		return IsRoomEvent(ev, "joined")
	}, s.config.JoinTimeout, fmt.Sprintf("joined confirmation for room %q", roomID))
	if err != nil {
		return fmt.Errorf("join room %q: %w", roomID, err)
	}

	s.mu.Lock()
	s.publisherID = ev.PluginData.Data.ID
	s.state = StateJoined
	s.mu.Unlock()

	s.logger.Printf("janus: joined room %q as publisher %d", roomID, s.PublisherID())
	return nil
}

// Publish generates a local SDP offer, sends it on the configure request,
// and waits for the answer routed through the correlator's answer
// side-channel (the answer can arrive attached to an otherwise-unpredictable
// event, so it is not claimed via WaitFor). Returns the outbound track
// writer for local audio.
func (s *Session) Publish(ctx context.Context) (media.TrackWriter, error) {
	if err := s.requireState(StateJoined); err != nil {
		return nil, err
	}

	pc, err := s.engine.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	writer, err := pc.AddAudioTrack()
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("publish: %w", err)
	}

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("publish: %w", err)
	}

	answerCh := make(chan *media.JSEP, 1)
	s.mu.Lock()
	s.pc = pc
	s.answerCh = answerCh
	s.state = StateConfiguring
	s.mu.Unlock()

	body := map[string]interface{}{
		"request": "configure",
		"audio":   true,
		"video":   false,
	}
	if _, err := s.transport.Message(ctx, s.SessionID(), s.HandleID(), body, offer); err != nil {
		s.clearAnswerCh()
		pc.Close()
		return nil, fmt.Errorf("configure: %w", err)
	}

	select {
	case answer := <-answerCh:
		if err := pc.SetRemoteAnswer(answer.SDP); err != nil {
			pc.Close()
			return nil, fmt.Errorf("configure: apply answer: %w", err)
		}
	case <-time.After(s.config.AnswerTimeout):
		s.clearAnswerCh()
		pc.Close()
		return nil, &TimeoutError{
			Description: "SDP answer for publisher configure",
			Timeout:     s.config.AnswerTimeout,
		}
	case <-ctx.Done():
		s.clearAnswerCh()
		pc.Close()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.state = StatePublished
	s.mu.Unlock()

	s.logger.Printf("janus: published to room %q", s.RoomID())
	return writer, nil
}

// routeAnswer delivers an SDP answer from the poll stream to the peer
// connection currently awaiting one.
func (s *Session) routeAnswer(jsep *media.JSEP) {
	s.mu.Lock()
	ch := s.answerCh
	s.answerCh = nil
	s.mu.Unlock()

	if ch == nil {
		s.logger.Printf("janus: dropping unexpected SDP answer")
		return
	}
	ch <- jsep
}

// clearAnswerCh abandons the in-flight configure's answer channel so a late
// answer is dropped instead of buffered for a stale negotiation.
func (s *Session) clearAnswerCh() {
	s.mu.Lock()
	s.answerCh = nil
	s.mu.Unlock()
}

// Leave leaves the room on the publisher handle.
func (s *Session) Leave(ctx context.Context) error {
	body := map[string]interface{}{"request": "leave"}
	if _, err := s.transport.Message(ctx, s.SessionID(), s.HandleID(), body, nil); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}

// DestroyRoom destroys the room. Only meaningful for the host that created it.
func (s *Session) DestroyRoom(ctx context.Context) error {
	body := map[string]interface{}{
		"request": "destroy",
		"room":    s.RoomID(),
	}
	if _, err := s.transport.Message(ctx, s.SessionID(), s.HandleID(), body, nil); err != nil {
		return fmt.Errorf("destroy room: %w", err)
	}
	return nil
}

// Stop halts the poll loop and closes the publisher peer connection. The
// gateway session is destroyed implicitly once polling stops.
func (s *Session) Stop() {
	s.mu.Lock()
	correlator := s.correlator
	pc := s.pc
	s.pc = nil
	s.mu.Unlock()

	if correlator != nil {
		correlator.Stop()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Printf("janus: closing publisher connection: %v", err)
		}
	}
}

func (s *Session) requireState(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return fmt.Errorf("invalid state %q, want %q", s.state, want)
	}
	return nil
}
