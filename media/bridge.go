/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// AudioFrame is a fixed-format PCM sample buffer. Frames are immutable value
// objects; ownership transfers to whichever consumer receives them.
type AudioFrame struct {
	// Samples is interleaved PCM16 data.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// BitsPerSample is always 16 for PCM16.
	BitsPerSample int

	// ChannelCount is 1 for mono, 2 for stereo.
	ChannelCount int

	// NumberOfFrames is len(Samples) / ChannelCount.
	NumberOfFrames int

	// UserID tags inbound frames with the originating speaker. Empty on
	// outbound frames.
	UserID string
}

// Source accepts local PCM frames and forwards them to the outbound audio
// track. Push is synchronous and non-blocking from the caller's perspective;
// buffering, if any, is the underlying media engine's responsibility.
type Source struct {
	mu     sync.Mutex
	writer TrackWriter
}

// NewSource creates a Source writing to the given outbound track writer.
func NewSource(writer TrackWriter) *Source {
	return &Source{writer: writer}
}

// Push converts the PCM samples to an encoded sample and writes it to the
// outbound track.
func (s *Source) Push(samples []int16, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid frame format: rate=%d channels=%d", sampleRate, channels)
	}
	if len(samples)%channels != 0 {
		return fmt.Errorf("sample count %d is not a multiple of channel count %d", len(samples), channels)
	}

	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}

	frames := len(samples) / channels
	duration := time.Duration(frames) * time.Second / time.Duration(sampleRate)

	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer == nil {
		return fmt.Errorf("source has no outbound track")
	}
	return writer.WriteSample(data, duration)
}

// SinkConfig describes the format of frames a Sink emits.
type SinkConfig struct {
	// SampleRate of emitted frames. Default: 48000.
	SampleRate int

	// ChannelCount of emitted frames. Default: 1.
	ChannelCount int

	// Logger for read-loop diagnostics. If nil, logging is disabled.
	Logger spacessdk.Logger
}

// Sink wraps an inbound remote track, converts engine-native packets into
// AudioFrames tagged with the originating speaker, and emits them. Payloads
// are interpreted as raw little-endian PCM16: a track carrying an encoded
// codec (such as the Opus that PionEngine negotiates) must be decoded before
// its payloads reach HandlePayload. After Stop, any further engine callbacks
// are discarded rather than forwarded.
type Sink struct {
	userID     string
	sampleRate int
	channels   int
	emit       func(frame AudioFrame)
	logger     spacessdk.Logger
	active     atomic.Bool
}

// NewSink creates a Sink tagging frames with userID and emitting them
// through emit.
func NewSink(userID string, config *SinkConfig, emit func(frame AudioFrame)) *Sink {
	if config == nil {
		config = &SinkConfig{}
	}
	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = 48000
	}
	channels := config.ChannelCount
	if channels == 0 {
		channels = 1
	}

	sink := &Sink{
		userID:     userID,
		sampleRate: sampleRate,
		channels:   channels,
		emit:       emit,
		logger:     config.Logger,
	}
	sink.active.Store(true)
	return sink
}

// UserID returns the speaker identity this sink tags frames with.
func (s *Sink) UserID() string {
	return s.userID
}

// Active reports whether the sink still forwards frames.
func (s *Sink) Active() bool {
	return s.active.Load()
}

// Stop detaches the sink. Frames delivered after Stop are discarded.
func (s *Sink) Stop() {
	s.active.Store(false)
}

// Bind starts a goroutine reading RTP packets from the track and emitting
// decoded frames until the track ends or the sink stops.
func (s *Sink) Bind(track RemoteTrack) {
	go s.readLoop(track)
}

func (s *Sink) readLoop(track RemoteTrack) {
	buf := make([]byte, 1500)
	for {
		n, err := track.Read(buf)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("sink %s: track read ended: %v", s.userID, err)
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		s.HandlePayload(pkt.Payload)
	}
}

// HandlePayload converts one engine-native PCM16 payload into an AudioFrame
// and emits it. Exposed for engines that deliver decoded payloads via
// callback instead of a readable track.
func (s *Sink) HandlePayload(payload []byte) {
	if !s.active.Load() {
		return
	}
	if len(payload) < 2 {
		return
	}

	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}

	s.emit(AudioFrame{
		Samples:        samples,
		SampleRate:     s.sampleRate,
		BitsPerSample:  16,
		ChannelCount:   s.channels,
		NumberOfFrames: len(samples) / s.channels,
		UserID:         s.userID,
	})
}
