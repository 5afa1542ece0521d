/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"context"
	"sync"
	"time"

	"github.com/SpacesCommunity/spaces-go-sdk/media"
	"github.com/SpacesCommunity/spaces-go-sdk/spacessdk"
)

// DefaultPollInterval is the fixed delay between poll iterations.
const DefaultPollInterval = 100 * time.Millisecond

// Predicate decides whether an event resolves a waiter.
type Predicate func(ev *Event) bool

// waiter is a pending expectation registered by a caller awaiting a specific
// asynchronous event. It lives from registration until a matching event
// arrives or its deadline elapses.
type waiter struct {
	predicate   Predicate
	description string
	ch          chan *Event // buffered; receives at most one event
}

// Correlator owns one long-poll loop per session and dispatches each decoded
// event to at most one outstanding waiter.
//
// Polling is deliberately serialized: each iteration performs one blocking
// long-poll fetch, dispatches at most one event, then waits a fixed
// inter-poll delay before the next fetch. Polls are never pipelined — a slow
// round trip delays the next poll by that same amount, which bounds
// throughput predictably and avoids out-of-order delivery.
type Correlator struct {
	transport    *Transport
	sessionID    uint64
	pollInterval time.Duration
	logger       spacessdk.Logger

	mu      sync.Mutex
	waiters []*waiter // FIFO by registration order

	onAnswer func(jsep *media.JSEP)
	onError  func(err error)

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewCorrelator creates a Correlator for one session's event stream.
// pollInterval <= 0 selects DefaultPollInterval.
func NewCorrelator(transport *Transport, sessionID uint64, pollInterval time.Duration) *Correlator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Correlator{
		transport:    transport,
		sessionID:    sessionID,
		pollInterval: pollInterval,
		logger:       transport.logger,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// OnAnswer sets the side-channel handler for SDP answers. Answers can arrive
// attached to otherwise-unpredictable events, so they are routed here instead
// of through WaitFor.
func (c *Correlator) OnAnswer(handler func(jsep *media.JSEP)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAnswer = handler
}

// OnError sets the side-channel handler for protocol-level errors. An event
// carrying an error field is surfaced here regardless of whether a waiter
// also matches it.
func (c *Correlator) OnError(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Start launches the poll loop. Starting twice is a no-op.
func (c *Correlator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.run()
}

// Stop cancels the poll loop and waits for the in-flight iteration to
// finish. No further polls are scheduled after Stop returns. Outstanding
// waiters are not rejected; they expire via their own deadlines.
func (c *Correlator) Stop() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if started {
		<-c.done
	}
}

func (c *Correlator) run() {
	defer close(c.done)

	for {
		if c.ctx.Err() != nil {
			return
		}

		ev, err := c.transport.Poll(c.ctx, c.sessionID)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			// Malformed or failed polls are dropped; the loop continues.
			c.logger.Printf("janus: poll session %d: %v", c.sessionID, err)
		} else if ev != nil {
			c.dispatch(ev)
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
	}
}

// dispatch routes one decoded event: side channels first, then the first
// matching waiter in registration order. An event claimed by no waiter is
// simply observed and discarded.
func (c *Correlator) dispatch(ev *Event) {
	if ev.Janus == "keepalive" {
		return
	}

	c.mu.Lock()
	onError := c.onError
	onAnswer := c.onAnswer
	c.mu.Unlock()

	if gerr := protocolError(ev); gerr != nil && onError != nil {
		onError(gerr)
	}

	if ev.JSEP != nil && ev.JSEP.Type == media.JSEPAnswer && onAnswer != nil {
		onAnswer(ev.JSEP)
	}

	c.mu.Lock()
	for i, w := range c.waiters {
		if w.predicate(ev) {
			// Removal and delivery happen atomically under the lock (the
			// channel is buffered), so an expiring waiter either finds
			// itself still registered or finds its event already buffered.
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			w.ch <- ev
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()

	if ev.Janus == "webrtcup" {
		c.logger.Printf("janus: webrtcup on handle %d", ev.Sender)
	}
}

// protocolError extracts a protocol-level rejection from an event, if any.
func protocolError(ev *Event) *GatewayError {
	if ev.Error != nil {
		return &GatewayError{Code: ev.Error.Code, Reason: ev.Error.Reason}
	}
	if ev.PluginData != nil && ev.PluginData.Data.Error != "" {
		return &GatewayError{Code: ev.PluginData.Data.ErrorCode, Reason: ev.PluginData.Data.Error}
	}
	return nil
}

// WaitFor registers a waiter and blocks until the first dispatched event for
// which predicate returns true, the timeout elapses, or ctx is cancelled.
// On timeout it returns a *TimeoutError carrying the description; no event
// arriving after expiry can resolve the waiter.
func (c *Correlator) WaitFor(ctx context.Context, predicate Predicate, timeout time.Duration, description string) (*Event, error) {
	w := &waiter{
		predicate:   predicate,
		description: description,
		ch:          make(chan *Event, 1),
	}

	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		if ev, resolved := c.abandon(w); resolved {
			return ev, nil
		}
		return nil, &TimeoutError{Description: description, Timeout: timeout}
	case <-ctx.Done():
		if ev, resolved := c.abandon(w); resolved {
			return ev, nil
		}
		return nil, ctx.Err()
	}
}

// abandon removes the waiter from the registry. If dispatch resolved it
// concurrently, the already-delivered event is returned instead so it is
// never lost.
func (c *Correlator) abandon(w *waiter) (*Event, bool) {
	c.mu.Lock()
	for i, other := range c.waiters {
		if other == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			c.mu.Unlock()
			return nil, false
		}
	}
	c.mu.Unlock()

	// Not in the registry: dispatch won the race and the event is buffered.
	select {
	case ev := <-w.ch:
		return ev, true
	default:
		return nil, false
	}
}

// PendingWaiters returns the number of outstanding waiters.
func (c *Correlator) PendingWaiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
