/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package space is the top-level client for hosting or joining a real-time
// audio room through a Janus-style HTTP long-poll gateway.
package space

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SpacesCommunity/spaces-go-sdk/janus"
	"github.com/SpacesCommunity/spaces-go-sdk/media"
	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// Config holds configuration for a Space client.
type Config struct {
	// RoomID identifies the room. Supplied externally.
	RoomID string

	// DisplayName is the identity this client joins with.
	DisplayName string

	// TURN is the relay credential bundle passed into every peer
	// connection, obtained out-of-band.
	TURN *media.TURNCredentials

	// Session configures the room protocol timeouts and poll interval.
	Session *janus.SessionConfig

	// Subscription configures feed discovery and attach timeouts.
	Subscription *janus.SubscriptionConfig

	// FrameSize is the per-frame sample count used by StreamLocalAudio.
	// Default: 480 (10 ms at 48 kHz).
	FrameSize int

	// Engine overrides the media engine. If nil, a pion engine is built
	// from the TURN bundle.
	Engine media.Engine
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Session:      janus.DefaultSessionConfig(),
		Subscription: janus.DefaultSubscriptionConfig(),
		FrameSize:    480,
	}
}

// Client joins or hosts a Space. It owns one gateway session, one publisher
// handle, and on-demand subscriber handles for remote speakers.
//
// Events: EventAudioData (tagged inbound frames), EventSubscribedSpeaker,
// EventError (background anomalies).
type Client struct {
	core   *spacessdk.Client
	config *Config
	logger spacessdk.Logger

	transport *janus.Transport
	session   *janus.Session
	subs      *janus.SubscriptionManager
	engine    media.Engine

	mu      sync.Mutex
	source  *media.Source
	stopped bool

	// Emitter delivers the client's event stream.
	Emitter *EventEmitter
}

// New creates a Space client on top of the core client.
func New(core *spacessdk.Client, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Session == nil {
		config.Session = janus.DefaultSessionConfig()
	}
	if config.Subscription == nil {
		config.Subscription = janus.DefaultSubscriptionConfig()
	}
	if config.FrameSize <= 0 {
		config.FrameSize = 480
	}
	if config.RoomID == "" {
		return nil, fmt.Errorf("room id cannot be empty")
	}

	engine := config.Engine
	if engine == nil {
		var err error
		engine, err = media.NewPionEngine(&media.EngineConfig{TURN: config.TURN})
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		core:      core,
		config:    config,
		logger:    core.GetLogger(),
		transport: janus.NewTransport(core),
		engine:    engine,
		Emitter:   NewEventEmitter(),
	}
	c.session = janus.NewSession(c.transport, engine, config.Session)
	c.subs = janus.NewSubscriptionManager(c.session, config.Subscription,
		func(frame media.AudioFrame) {
			c.Emitter.Emit(EventAudioData, frame)
		},
		func(sub *janus.Subscription) {
			c.Emitter.Emit(EventSubscribedSpeaker, SubscribedSpeaker{
				UserID: sub.UserID,
				FeedID: sub.FeedID,
			})
		})
	return c, nil
}

// Initialize runs the host handshake: create session, attach the publisher
// handle, create the room, join it, and publish local audio. Any step
// failing is fatal and propagated; callers restart the whole handshake.
func (c *Client) Initialize(ctx context.Context) error {
	return c.initialize(ctx, true)
}

// InitializeAsGuestSpeaker runs the guest handshake: identical to Initialize
// but skips room creation, since the room was created elsewhere.
func (c *Client) InitializeAsGuestSpeaker(ctx context.Context) error {
	return c.initialize(ctx, false)
}

func (c *Client) initialize(ctx context.Context, createRoom bool) error {
	if err := c.session.Connect(ctx); err != nil {
		return err
	}
	c.session.Correlator().OnError(func(err error) {
		c.Emitter.Emit(EventError, err)
	})

	if err := c.session.AttachPublisher(ctx); err != nil {
		return err
	}
	if createRoom {
		if err := c.session.CreateRoom(ctx, c.config.RoomID); err != nil {
			return err
		}
	}
	if err := c.session.Join(ctx, c.config.RoomID, c.config.DisplayName); err != nil {
		return err
	}

	writer, err := c.session.Publish(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.source = media.NewSource(writer)
	c.mu.Unlock()
	return nil
}

// SubscribeSpeaker subscribes to a remote speaker's audio. Inbound frames
// are emitted as EventAudioData tagged with userID. Subscriptions for
// different speakers may be negotiated concurrently.
func (c *Client) SubscribeSpeaker(ctx context.Context, userID string) error {
	_, err := c.subs.Subscribe(ctx, userID)
	return err
}

// UnsubscribeSpeaker tears down the subscription for userID.
func (c *Client) UnsubscribeSpeaker(ctx context.Context, userID string) error {
	return c.subs.Unsubscribe(ctx, userID)
}

// SubscribedSpeakers returns the user ids with active subscriptions.
func (c *Client) SubscribedSpeakers() []string {
	return c.subs.Active()
}

// PushLocalAudio forwards one PCM frame to the outbound track. Synchronous
// and non-blocking; any buffering is the media engine's responsibility.
func (c *Client) PushLocalAudio(samples []int16, sampleRate, channels int) error {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()
	if source == nil {
		return fmt.Errorf("not publishing; call Initialize first")
	}
	return source.Push(samples, sampleRate, channels)
}

// StreamLocalAudio splits a PCM buffer into frames of the configured size
// and pushes them at real-time pacing (one frame per frame duration), so a
// buffer of N samples takes about N/sampleRate seconds to transmit. No frame
// is dropped. Blocks until the buffer is streamed or ctx is cancelled.
func (c *Client) StreamLocalAudio(ctx context.Context, samples []int16, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid stream format: rate=%d channels=%d", sampleRate, channels)
	}

	frameSamples := c.config.FrameSize * channels
	frameDuration := time.Duration(c.config.FrameSize) * time.Second / time.Duration(sampleRate)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for start := 0; start < len(samples); start += frameSamples {
		end := start + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		if err := c.PushLocalAudio(samples[start:end], sampleRate, channels); err != nil {
			return err
		}
		if end == len(samples) {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop tears down all subscriptions and halts the poll loop. The gateway
// session is destroyed implicitly once polling stops. Outstanding waiters
// are left to their own timeouts. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.source = nil
	c.mu.Unlock()

	c.subs.Close()
	c.session.Stop()
	c.logger.Printf("space: client stopped")
}

// SessionID returns the gateway session id. Needed by the broadcast-publish
// collaborator.
func (c *Client) SessionID() uint64 {
	return c.session.SessionID()
}

// HandleID returns the publisher handle id.
func (c *Client) HandleID() uint64 {
	return c.session.HandleID()
}

// PublisherID returns the id assigned by the "joined" confirmation.
func (c *Client) PublisherID() uint64 {
	return c.session.PublisherID()
}
