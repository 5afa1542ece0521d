/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package broadcast is the thin REST collaborator that creates and publishes
// a broadcast and moderates its guests. The signaling client supplies the
// session/handle ids these calls reference.
package broadcast

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// Config holds the configuration for the broadcast client.
type Config struct {
	// BaseURL of the broadcast REST service. Defaults to the core client's
	// APIBaseURL.
	BaseURL string
}

// Client is the broadcast REST API client.
type Client struct {
	core   *spacessdk.Client
	config *Config
}

// New creates a new broadcast client.
func New(core *spacessdk.Client, config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	if config.BaseURL == "" {
		config.BaseURL = core.Config.APIBaseURL
	}
	return &Client{core: core, config: config}
}

// Broadcast is a created broadcast resource.
type Broadcast struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	ChatToken string `json:"chatToken"`
	State     string `json:"state"`
}

// CreateRequest is the body for CreateBroadcast.
type CreateRequest struct {
	Title       string `json:"title"`
	Region      string `json:"region,omitempty"`
	ScheduledAt int64  `json:"scheduledAt,omitempty"`
}

// CreateBroadcast creates a new broadcast and returns it.
func (c *Client) CreateBroadcast(ctx context.Context, req *CreateRequest) (*Broadcast, error) {
	resp, err := c.core.RequestJSON(ctx, http.MethodPost, c.url("broadcasts"), req)
	if err != nil {
		return nil, err
	}

	var broadcast Broadcast
	if err := spacessdk.ParseResponse(resp, &broadcast); err != nil {
		return nil, err
	}
	return &broadcast, nil
}

// PublishRequest is the body for PublishBroadcast. Session, handle, and
// publisher ids come from the signaling client's accessors.
type PublishRequest struct {
	BroadcastID string `json:"broadcastId"`
	SessionID   uint64 `json:"sessionId"`
	HandleID    uint64 `json:"handleId"`
	PublisherID uint64 `json:"publisherId"`
	Title       string `json:"title,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

// PublishBroadcast makes the broadcast live once the publisher handshake has
// completed.
func (c *Client) PublishBroadcast(ctx context.Context, req *PublishRequest) error {
	resp, err := c.core.RequestJSON(ctx, http.MethodPost, c.url("broadcasts/publish"), req)
	if err != nil {
		return err
	}
	return spacessdk.ParseResponse(resp, nil)
}

// approvalRequest is the body for speaker moderation calls.
type approvalRequest struct {
	BroadcastID string `json:"broadcastId"`
	UserID      string `json:"userId"`
	SessionUUID string `json:"sessionUuid,omitempty"`
}

// ApproveSpeaker approves a pending speaker request for the given user.
func (c *Client) ApproveSpeaker(ctx context.Context, broadcastID, userID, sessionUUID string) error {
	resp, err := c.core.RequestJSON(ctx, http.MethodPost, c.url("broadcasts/speakers/approve"), &approvalRequest{
		BroadcastID: broadcastID,
		UserID:      userID,
		SessionUUID: sessionUUID,
	})
	if err != nil {
		return err
	}
	return spacessdk.ParseResponse(resp, nil)
}

// EjectGuest removes a guest from the broadcast.
func (c *Client) EjectGuest(ctx context.Context, broadcastID, userID string) error {
	resp, err := c.core.RequestJSON(ctx, http.MethodPost, c.url("broadcasts/guests/eject"), &approvalRequest{
		BroadcastID: broadcastID,
		UserID:      userID,
	})
	if err != nil {
		return err
	}
	return spacessdk.ParseResponse(resp, nil)
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/%s", c.config.BaseURL, path)
}
