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

// Subscription is one active per-speaker subscription: its own subscriber
// handle, peer connection, and tagged audio sink.
type Subscription struct {
	UserID   string
	FeedID   uint64
	HandleID uint64

	pc   media.PeerConnection
	sink *media.Sink
}

// ConnectionState returns the subscription's peer connection state.
func (s *Subscription) ConnectionState() string {
	return s.pc.ConnectionState()
}

// SubscriptionConfig holds timeouts and the emitted frame format.
type SubscriptionConfig struct {
	// DiscoveryTimeout bounds feed discovery: how long to wait for a room
	// event advertising the requested publisher. Default: 15s.
	DiscoveryTimeout time.Duration

	// AttachTimeout bounds the wait for the "attached" event carrying the
	// subscriber's SDP offer. Default: 10s.
	AttachTimeout time.Duration

	// Sink describes the emitted frame format.
	Sink *media.SinkConfig
}

// DefaultSubscriptionConfig returns a SubscriptionConfig with sensible
// defaults.
func DefaultSubscriptionConfig() *SubscriptionConfig {
	return &SubscriptionConfig{
		DiscoveryTimeout: 15 * time.Second,
		AttachTimeout:    10 * time.Second,
	}
}

// SubscriptionManager negotiates one subscription per remote speaker on a
// shared session. Negotiations for different speakers may run interleaved;
// correctness depends on the "attached" waiter filtering by handle id so one
// subscription's waiter never consumes another's event.
type SubscriptionManager struct {
	session *Session
	config  *SubscriptionConfig
	logger  spacessdk.Logger

	// onFrame receives every inbound tagged audio frame.
	onFrame func(frame media.AudioFrame)

	// onSubscribed is invoked after a subscription completes negotiation.
	onSubscribed func(sub *Subscription)

	mu   sync.Mutex
	subs map[string]*Subscription

	// pending reserves user ids whose negotiation is still in flight, so a
	// concurrent Subscribe for the same speaker cannot race past the
	// duplicate check and leak the first call's connection.
	pending map[string]struct{}
}

// NewSubscriptionManager creates a manager for the given session.
func NewSubscriptionManager(session *Session, config *SubscriptionConfig, onFrame func(frame media.AudioFrame), onSubscribed func(sub *Subscription)) *SubscriptionManager {
	if config == nil {
		config = DefaultSubscriptionConfig()
	}
	if config.DiscoveryTimeout == 0 {
		config.DiscoveryTimeout = 15 * time.Second
	}
	if config.AttachTimeout == 0 {
		config.AttachTimeout = 10 * time.Second
	}
	return &SubscriptionManager{
		session:      session,
		config:       config,
		logger:       session.logger,
		onFrame:      onFrame,
		onSubscribed: onSubscribed,
		subs:         make(map[string]*Subscription),
		pending:      make(map[string]struct{}),
	}
}

// Subscribe negotiates a subscription to the given speaker:
//
//  1. attach a new subscriber handle
//  2. discover the speaker's feed id from pushed publisher lists
//  3. join as subscriber on that feed and await the "attached" event —
//     filtered by this handle id — carrying the SDP offer
//  4. answer the offer and wire the inbound track to a tagged sink
//  5. send "start" with the local answer
//
// Feed discovery is a polling-discovery pattern: the publisher list is
// pushed asynchronously and may take multiple polls to appear. If no entry
// matches before the discovery bound, Subscribe fails with
// *SpeakerNotFoundError.
func (m *SubscriptionManager) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	m.mu.Lock()
	_, active := m.subs[userID]
	_, inFlight := m.pending[userID]
	if active || inFlight {
		m.mu.Unlock()
		return nil, &AlreadySubscribedError{UserID: userID}
	}
	m.pending[userID] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, userID)
		m.mu.Unlock()
	}()

	transport := m.session.transport
	correlator := m.session.Correlator()
	sessionID := m.session.SessionID()

	handleID, err := transport.Attach(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("attach subscriber handle: %w", err)
	}

	ev, err := correlator.WaitFor(ctx, func(ev *Event) bool {
		_, found := FindPublisher(ev, userID)
		return found
	}, m.config.DiscoveryTimeout, fmt.Sprintf("publisher list entry for %q", userID))
	if err != nil {
		if IsTimeout(err) {
			return nil, &SpeakerNotFoundError{UserID: userID}
		}
		return nil, err
	}
	feed, _ := FindPublisher(ev, userID)

	m.logger.Printf("janus: discovered feed %d for speaker %q", feed.ID, userID)

	body := map[string]interface{}{
		"request": "join",
		"ptype":   "subscriber",
		"room":    m.session.RoomID(),
		"feed":    feed.ID,
	}
	if _, err := transport.Message(ctx, sessionID, handleID, body, nil); err != nil {
		return nil, fmt.Errorf("subscriber join for %q: %w", userID, err)
	}

	// Multiple subscriber negotiations may be in flight; filter by this
	// handle id so they cannot cross-resolve each other's waiters.
	attached, err := correlator.WaitFor(ctx, func(ev *Event) bool {
		return ev.Sender == handleID &&
			IsRoomEvent(ev, "attached") &&
			ev.JSEP != nil && ev.JSEP.Type == media.JSEPOffer
	}, m.config.AttachTimeout, fmt.Sprintf("attached offer on handle %d", handleID))
	if err != nil {
		return nil, fmt.Errorf("subscriber attach for %q: %w", userID, err)
	}

	pc, err := m.session.engine.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("subscriber connection for %q: %w", userID, err)
	}

	sink := media.NewSink(userID, m.config.Sink, m.onFrame)
	pc.OnRemoteTrack(sink.Bind)

	if err := pc.SetRemoteOffer(attached.JSEP.SDP); err != nil {
		pc.Close()
		return nil, fmt.Errorf("subscriber offer for %q: %w", userID, err)
	}

	answer, err := pc.CreateAnswer(ctx)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("subscriber answer for %q: %w", userID, err)
	}

	start := map[string]interface{}{
		"request": "start",
		"room":    m.session.RoomID(),
	}
	if _, err := transport.Message(ctx, sessionID, handleID, start, answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("subscriber start for %q: %w", userID, err)
	}

	sub := &Subscription{
		UserID:   userID,
		FeedID:   feed.ID,
		HandleID: handleID,
		pc:       pc,
		sink:     sink,
	}

	m.mu.Lock()
	m.subs[userID] = sub
	m.mu.Unlock()

	m.logger.Printf("janus: subscribed to speaker %q (feed %d, handle %d)", userID, feed.ID, handleID)
	if m.onSubscribed != nil {
		m.onSubscribed(sub)
	}
	return sub, nil
}

// Get returns the active subscription for userID, if any.
func (m *SubscriptionManager) Get(userID string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	return sub, ok
}

// Active returns the user ids with active subscriptions.
func (m *SubscriptionManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	return ids
}

// Unsubscribe tears down the subscription for userID: leaves on its handle,
// stops the sink, and closes the peer connection.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, userID string) error {
	m.mu.Lock()
	sub, ok := m.subs[userID]
	delete(m.subs, userID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no subscription for %q", userID)
	}

	body := map[string]interface{}{"request": "leave"}
	if _, err := m.session.transport.Message(ctx, m.session.SessionID(), sub.HandleID, body, nil); err != nil {
		m.logger.Printf("janus: subscriber leave for %q: %v", userID, err)
	}

	sub.sink.Stop()
	return sub.pc.Close()
}

// Close tears down every active subscription.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.sink.Stop()
		if err := sub.pc.Close(); err != nil {
			m.logger.Printf("janus: closing subscription %q: %v", sub.UserID, err)
		}
	}
}
