/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// EngineConfig holds configuration for the pion media engine.
type EngineConfig struct {
	// TURN is the relay credential bundle for every peer connection.
	// If nil, a public STUN server is used instead.
	TURN *TURNCredentials

	// ClockRate of the negotiated audio codec. Default: 48000.
	ClockRate uint32

	// Channels of the negotiated audio codec. Default: 1.
	Channels uint16
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		ClockRate: 48000,
		Channels:  1,
	}
}

// PionEngine creates pion-backed peer connections configured for audio-only
// rooms. Codec work (encode/decode) is the engine's concern; the signaling
// layer only moves SDP and samples.
type PionEngine struct {
	api    *webrtc.API
	config *EngineConfig
}

// NewPionEngine builds a pion API with an audio-only media engine and the
// default interceptor registry, the same way a custom MediaEngine must be
// paired with RegisterDefaultInterceptors for inbound SRTP to be processed.
func NewPionEngine(config *EngineConfig) (*PionEngine, error) {
	if config == nil {
		config = DefaultEngineConfig()
	}
	if config.ClockRate == 0 {
		config.ClockRate = 48000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: config.ClockRate,
			Channels:  config.Channels,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register audio codec: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	return &PionEngine{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		config: config,
	}, nil
}

// NewPeerConnection creates a peer connection using the engine's ICE servers.
func (e *PionEngine) NewPeerConnection() (PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: e.iceServers(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := &pionPeerConnection{pc: pc, engine: e}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		conn.mu.Lock()
		handler := conn.onRemoteTrack
		conn.mu.Unlock()
		if handler != nil {
			handler(&pionRemoteTrack{track: track})
		}
	})

	return conn, nil
}

func (e *PionEngine) iceServers() []webrtc.ICEServer {
	if e.config.TURN == nil {
		return []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	return []webrtc.ICEServer{
		{
			URLs:       e.config.TURN.URIs,
			Username:   e.config.TURN.Username,
			Credential: e.config.TURN.Password,
		},
	}
}

// pionPeerConnection adapts *webrtc.PeerConnection to the PeerConnection
// capability interface.
type pionPeerConnection struct {
	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	engine        *PionEngine
	onRemoteTrack func(track RemoteTrack)
}

func (p *pionPeerConnection) CreateOffer(ctx context.Context) (*JSEP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	if err := p.waitGathering(ctx); err != nil {
		return nil, err
	}

	localDesc := p.pc.LocalDescription()
	if localDesc == nil {
		return nil, fmt.Errorf("local description is nil after gathering")
	}
	return &JSEP{Type: JSEPOffer, SDP: localDesc.SDP}, nil
}

func (p *pionPeerConnection) CreateAnswer(ctx context.Context) (*JSEP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	if err := p.waitGathering(ctx); err != nil {
		return nil, err
	}

	localDesc := p.pc.LocalDescription()
	if localDesc == nil {
		return nil, fmt.Errorf("local description is nil after gathering")
	}
	return &JSEP{Type: JSEPAnswer, SDP: localDesc.SDP}, nil
}

// waitGathering blocks until ICE gathering completes so the returned SDP
// carries its candidates. Called with p.mu held.
func (p *pionPeerConnection) waitGathering(ctx context.Context) error {
	select {
	case <-webrtc.GatheringCompletePromise(p.pc):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pionPeerConnection) SetRemoteOffer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

func (p *pionPeerConnection) SetRemoteAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The poll stream may deliver the same answer more than once.
	if p.pc.SignalingState() == webrtc.SignalingStateStable {
		return nil
	}

	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeerConnection) AddAudioTrack() (TrackWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: p.engine.config.ClockRate,
			Channels:  p.engine.config.Channels,
		},
		"audio",
		"spaces-local",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := p.pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// Read RTCP from the sender to keep the interceptors fed
	go func() {
		sender := transceiver.Sender()
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	return &pionTrackWriter{track: track}, nil
}

func (p *pionPeerConnection) OnRemoteTrack(handler func(track RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemoteTrack = handler
}

func (p *pionPeerConnection) ConnectionState() string {
	return p.pc.ConnectionState().String()
}

func (p *pionPeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc != nil {
		if err := p.pc.Close(); err != nil {
			return fmt.Errorf("failed to close peer connection: %w", err)
		}
	}
	return nil
}

// pionTrackWriter adapts a static sample track to TrackWriter.
type pionTrackWriter struct {
	track *webrtc.TrackLocalStaticSample
}

func (w *pionTrackWriter) WriteSample(data []byte, duration time.Duration) error {
	return w.track.WriteSample(pionmedia.Sample{Data: data, Duration: duration})
}

// pionRemoteTrack adapts *webrtc.TrackRemote to RemoteTrack.
type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) Read(buf []byte) (int, error) {
	n, _, err := t.track.Read(buf)
	return n, err
}
