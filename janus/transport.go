/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/SpacesCommunity/spaces-go-sdk/media"
	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// Transport issues JSON requests to the gateway, appending session and
// handle path segments. It holds no state beyond the core client. There are
// no retries at this layer — retry policy belongs to callers.
//
// Requests are fire-and-forget with respect to correlation: the actual
// operation result arrives later via the poll stream, the HTTP response only
// acknowledges receipt or surfaces an immediate rejection.
type Transport struct {
	core   *spacessdk.Client
	logger spacessdk.Logger
}

// NewTransport creates a Transport on top of the core client.
func NewTransport(core *spacessdk.Client) *Transport {
	return &Transport{
		core:   core,
		logger: core.GetLogger(),
	}
}

// request is the envelope POSTed to the gateway.
type request struct {
	Janus       string      `json:"janus"`
	Transaction string      `json:"transaction"`
	Plugin      string      `json:"plugin,omitempty"`
	Body        interface{} `json:"body,omitempty"`
	JSEP        *media.JSEP `json:"jsep,omitempty"`
}

// CreateSession creates a gateway session and returns its id.
func (t *Transport) CreateSession(ctx context.Context) (uint64, error) {
	ev, err := t.post(ctx, t.core.GatewayURL.String(), &request{
		Janus:       "create",
		Transaction: uuid.NewString(),
	})
	if err != nil {
		return 0, err
	}
	if ev.Data == nil {
		return 0, fmt.Errorf("create session: no id in response")
	}
	return ev.Data.ID, nil
}

// Attach attaches a videoroom plugin handle to the session and returns the
// handle id.
func (t *Transport) Attach(ctx context.Context, sessionID uint64) (uint64, error) {
	ev, err := t.post(ctx, t.sessionURL(sessionID), &request{
		Janus:       "attach",
		Transaction: uuid.NewString(),
		Plugin:      PluginVideoRoom,
	})
	if err != nil {
		return 0, err
	}
	if ev.Data == nil {
		return 0, fmt.Errorf("attach: no handle id in response")
	}
	return ev.Data.ID, nil
}

// Message sends a plugin message to a handle, optionally carrying a session
// description. The returned event is the immediate HTTP acknowledgement, not
// the operation result.
func (t *Transport) Message(ctx context.Context, sessionID, handleID uint64, body interface{}, jsep *media.JSEP) (*Event, error) {
	return t.post(ctx, t.handleURL(sessionID, handleID), &request{
		Janus:       "message",
		Transaction: uuid.NewString(),
		Body:        body,
		JSEP:        jsep,
	})
}

// Poll performs one blocking long-poll fetch against the session's event
// stream and returns at most one decoded event. The server holds the
// connection until an event is ready or a server-side timeout elapses; the
// request deliberately skips the client-level timeout so the server's
// max-wait is the only bound.
func (t *Transport) Poll(ctx context.Context, sessionID uint64) (*Event, error) {
	url := fmt.Sprintf("%s?maxev=1&_=%s", t.sessionURL(sessionID), uuid.NewString())

	resp, err := t.core.RequestLongPoll(ctx, url)
	if err != nil {
		return nil, err
	}

	var ev Event
	if err := spacessdk.ParseResponse(resp, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (t *Transport) post(ctx context.Context, url string, req *request) (*Event, error) {
	resp, err := t.core.RequestJSON(ctx, http.MethodPost, url, req)
	if err != nil {
		return nil, err
	}

	var ev Event
	if err := spacessdk.ParseResponse(resp, &ev); err != nil {
		return nil, err
	}

	// The gateway can reject a request synchronously with 200 + error envelope
	// (e.g. bad room id).
	if ev.Janus == "error" && ev.Error != nil {
		return nil, &GatewayError{Code: ev.Error.Code, Reason: ev.Error.Reason}
	}
	return &ev, nil
}

func (t *Transport) sessionURL(sessionID uint64) string {
	return fmt.Sprintf("%s/%d", t.core.GatewayURL.String(), sessionID)
}

func (t *Transport) handleURL(sessionID, handleID uint64) string {
	return fmt.Sprintf("%s/%d/%d", t.core.GatewayURL.String(), sessionID, handleID)
}
