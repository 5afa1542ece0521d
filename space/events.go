/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package space

import "sync"

// EventKey identifies the type of event emitted by a Space client.
type EventKey string

const (
	// EventAudioData carries a media.AudioFrame tagged with the speaker's
	// user id.
	EventAudioData EventKey = "audio_data_from_speaker"

	// EventSubscribedSpeaker carries a SubscribedSpeaker once a
	// subscription completes negotiation.
	EventSubscribedSpeaker EventKey = "subscribed_speaker"

	// EventError carries an error surfaced from the poll stream or the
	// media layer. Background anomalies arrive only here, never by failing
	// an unrelated call site.
	EventError EventKey = "error"
)

// SubscribedSpeaker is the payload of EventSubscribedSpeaker.
type SubscribedSpeaker struct {
	UserID string
	FeedID uint64
}

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventKey][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventKey][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event EventKey, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event EventKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event EventKey, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
