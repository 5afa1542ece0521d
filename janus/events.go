/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import "github.com/SpacesCommunity/spaces-go-sdk/media"

// PluginVideoRoom is the plugin attached for every room participation role.
const PluginVideoRoom = "janus.plugin.videoroom"

// Event is one decoded envelope from the gateway's poll stream or an
// immediate HTTP response. Unused fields stay at their zero values.
type Event struct {
	// Janus is the envelope discriminator: "success", "ack", "event",
	// "keepalive", "webrtcup", "error", ...
	Janus string `json:"janus,omitempty"`

	// Transaction echoes the transaction id of the request that caused
	// this event, when the gateway attributes one.
	Transaction string `json:"transaction,omitempty"`

	// Sender is the handle id the event is attributed to.
	Sender uint64 `json:"sender,omitempty"`

	// Data carries the resource id for "success" responses.
	Data *EventData `json:"data,omitempty"`

	// PluginData carries videoroom payloads for plugin events.
	PluginData *PluginData `json:"plugindata,omitempty"`

	// JSEP carries an attached session description, if any.
	JSEP *media.JSEP `json:"jsep,omitempty"`

	// Error carries a protocol-level rejection, if any.
	Error *EventError `json:"error,omitempty"`
}

// EventData is the payload of a "success" response.
type EventData struct {
	ID uint64 `json:"id"`
}

// EventError is a protocol-level error envelope.
type EventError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// PluginData wraps a plugin event payload.
type PluginData struct {
	Plugin string   `json:"plugin"`
	Data   RoomData `json:"data"`
}

// RoomData is the videoroom plugin payload. The VideoRoom field discriminates
// the event kind: "created", "joined", "attached", "event", "destroyed".
type RoomData struct {
	VideoRoom  string      `json:"videoroom,omitempty"`
	Room       string      `json:"room,omitempty"`
	ID         uint64      `json:"id,omitempty"`
	Publishers []Publisher `json:"publishers,omitempty"`
	Leaving    uint64      `json:"leaving,omitempty"`
	ErrorCode  int         `json:"error_code,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Publisher is an ephemeral feed descriptor advertised by the gateway when a
// remote publisher appears in the room.
type Publisher struct {
	// ID is the feed id used to subscribe to this publisher.
	ID uint64 `json:"id"`

	// Display is the display name the publisher joined with.
	Display string `json:"display,omitempty"`

	// UserID is the external user identity, when the gateway advertises one.
	UserID string `json:"user_id,omitempty"`
}

// Matches reports whether this publisher entry resolves the given external
// user identity, by displayed name or external user id.
func (p Publisher) Matches(userID string) bool {
	return userID != "" && (p.Display == userID || p.UserID == userID)
}

// FindPublisher scans an event's publisher list for an entry matching the
// given user identity. Returns false when the event carries no match.
func FindPublisher(ev *Event, userID string) (Publisher, bool) {
	if ev == nil || ev.PluginData == nil {
		return Publisher{}, false
	}
	for _, pub := range ev.PluginData.Data.Publishers {
		if pub.Matches(userID) {
			return pub, true
		}
	}
	return Publisher{}, false
}

// IsRoomEvent reports whether the event is a videoroom plugin event of the
// given kind ("joined", "attached", "event", ...).
func IsRoomEvent(ev *Event, kind string) bool {
	return ev != nil && ev.PluginData != nil &&
		ev.PluginData.Plugin == PluginVideoRoom &&
		ev.PluginData.Data.VideoRoom == kind
}
