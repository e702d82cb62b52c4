package relay

import "errors"

var (
	ErrAllRelaysUnreachable    = errors.New("all relays unreachable")
	ErrNotConnected            = errors.New("not connected")
	ErrConnectionLost          = errors.New("relay connection lost")
	ErrDuplicateSubscriptionID = errors.New("duplicate subscription id")

	// ErrSubscriptionTimeout is the hard timeout: nothing was delivered before
	// the deadline. A timeout after at least one event is reported as a
	// partial Result instead.
	ErrSubscriptionTimeout = errors.New("subscription timed out")
	ErrSubscriptionClosed  = errors.New("subscription closed by relay")

	// ErrPublishAckTimeout means the relay did not answer in time. The event
	// may still have been stored, so callers treat it as ambiguous, not failed.
	ErrPublishAckTimeout = errors.New("publish acknowledgement timed out")
	ErrPublishRejected   = errors.New("publish rejected by relay")
)
