/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package media bridges raw PCM audio and WebRTC media tracks. The signaling
// layer only sees the small capability interfaces defined here, so it can be
// exercised against fakes without a real media engine.
package media

import (
	"context"
	"time"
)

// JSEPType discriminates a session description payload.
type JSEPType string

const (
	JSEPOffer  JSEPType = "offer"
	JSEPAnswer JSEPType = "answer"
)

// JSEP is a session description exchanged with the gateway. A nil *JSEP
// means no description is attached.
type JSEP struct {
	Type JSEPType `json:"type"`
	SDP  string   `json:"sdp"`
}

// TURNCredentials is the relay credential bundle obtained out-of-band and
// passed into every peer connection created by this SDK.
type TURNCredentials struct {
	URIs     []string `json:"uris"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

// TrackWriter writes encoded audio samples to an outbound track.
type TrackWriter interface {
	WriteSample(data []byte, duration time.Duration) error
}

// RemoteTrack is an inbound media track. Read fills buf with one raw RTP
// packet and returns its length, or an error once the track ends.
type RemoteTrack interface {
	Read(buf []byte) (int, error)
}

// PeerConnection is the capability surface the signaling layer needs from
// the underlying media engine. Implementations wrap a real engine (see
// PionEngine) or a fake in tests.
type PeerConnection interface {
	// CreateOffer generates a local SDP offer and sets it as the local
	// description. Blocks until ICE gathering completes.
	CreateOffer(ctx context.Context) (*JSEP, error)

	// CreateAnswer generates a local SDP answer for a previously applied
	// remote offer. Blocks until ICE gathering completes.
	CreateAnswer(ctx context.Context) (*JSEP, error)

	// SetRemoteOffer applies a remote SDP offer.
	SetRemoteOffer(sdp string) error

	// SetRemoteAnswer applies a remote SDP answer. Applying a duplicate
	// answer after the connection reached stable state is a no-op.
	SetRemoteAnswer(sdp string) error

	// AddAudioTrack adds a local outbound audio track and returns its writer.
	AddAudioTrack() (TrackWriter, error)

	// OnRemoteTrack sets the callback invoked when an inbound track arrives.
	OnRemoteTrack(handler func(track RemoteTrack))

	// ConnectionState returns the current connection state as a string.
	ConnectionState() string

	// Close releases the connection and its tracks.
	Close() error
}

// Engine creates peer connections. One engine is shared by the publisher
// handshake and all subscriber negotiations of a client.
type Engine interface {
	NewPeerConnection() (PeerConnection, error)
}
