package riptide

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned from [Publisher.Submit] after the publisher
// has been closed, and wrapped into the OnError delivered to a
// subscriber that attempts to subscribe to a closed publisher.
var ErrClosed = errors.New("publisher closed")

// InvalidDemandError terminates a subscription whose subscriber
// called Request with a non-positive n.
type InvalidDemandError struct {
	N int64
}

func (e InvalidDemandError) Error() string {
	return fmt.Sprintf("requested non-positive demand %d", e.N)
}

// DuplicateSubscriberError terminates a subscription whose subscriber
// was passed to Subscribe a second time on the same publisher.
type DuplicateSubscriberError struct {
	ID uuid.UUID
}

func (e DuplicateSubscriberError) Error() string {
	return "subscriber already registered under subscription " + e.ID.String()
}

// BufferFullError is returned from [Publisher.Submit] when a
// subscription's backlog has no free capacity:
// immediately under [OverflowFail],
// or after waiting [PublisherConfig.SubmitTimeout] under [OverflowBlock].
type BufferFullError struct {
	SubscriptionID uuid.UUID

	// Waited is how long Submit blocked before giving up.
	// Zero under OverflowFail.
	Waited time.Duration
}

func (e BufferFullError) Error() string {
	if e.Waited > 0 {
		return fmt.Sprintf("backlog full for subscription %s after waiting %v",
			e.SubscriptionID, e.Waited)
	}
	return "backlog full for subscription " + e.SubscriptionID.String()
}

// DeliveryPanicError terminates a subscription whose subscriber
// panicked inside one of its own callbacks.
// The recovered value is retained for the subscriber's OnError.
type DeliveryPanicError struct {
	Recovered any
}

func (e DeliveryPanicError) Error() string {
	return fmt.Sprintf("subscriber callback panicked: %v", e.Recovered)
}
