/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Spaces Community
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned by Correlator.WaitFor when no matching event
// arrives before the deadline. Always recoverable by retrying the whole
// operation; never retried internally.
type TimeoutError struct {
	// Description is the human-readable description of what was awaited.
	Description string

	// Timeout is the bound that elapsed.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Description)
}

// GatewayError is a protocol-level rejection from the gateway (a
// janus:"error" envelope or a videoroom error payload). It does not tear
// down the session.
type GatewayError struct {
	Code   int
	Reason string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Reason)
}

// SpeakerNotFoundError is returned when feed discovery finds no publisher
// matching the requested user before the discovery bound elapses.
// Recoverable by retrying the subscription later.
type SpeakerNotFoundError struct {
	UserID string
}

// Error implements the error interface.
func (e *SpeakerNotFoundError) Error() string {
	return fmt.Sprintf("no publisher found for speaker %q", e.UserID)
}

// AlreadySubscribedError is returned when a subscription already exists for
// the requested user.
type AlreadySubscribedError struct {
	UserID string
}

// Error implements the error interface.
func (e *AlreadySubscribedError) Error() string {
	return fmt.Sprintf("already subscribed to speaker %q", e.UserID)
}

// IsTimeout reports whether err is a correlation timeout.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// IsSpeakerNotFound reports whether err is a feed discovery failure.
func IsSpeakerNotFound(err error) bool {
	var e *SpeakerNotFoundError
	return errors.As(err, &e)
}
