package riptide

import (
	"log/slog"

	"github.com/google/uuid"
)

// Subscriber receives a stream of items from a [Publisher].
//
// The callbacks for one Subscriber are strictly serialized:
// no two of them ever execute concurrently,
// so implementations do not need their own synchronization
// for state touched only from callbacks.
//
// The callback sequence is always exactly one OnSubscribe,
// then zero or more OnNext calls,
// then at most one of OnError or OnComplete.
// A Subscriber receives no OnNext calls
// beyond the demand it has granted through [Subscription.Request].
//
// Subscriber values are used as registry keys,
// so implementations must be comparable;
// in practice that means subscribing pointers, not struct values.
type Subscriber[T any] interface {
	// OnSubscribe is invoked synchronously during [Publisher.Subscribe],
	// before Subscribe returns.
	// The Subscriber must retain the Subscription
	// and call Request on it to receive any items.
	OnSubscribe(s Subscription)

	// OnNext is invoked once per delivered item,
	// in submission order, consuming one unit of granted demand.
	OnNext(item T)

	// OnError is the failure-terminal callback.
	// No further callbacks occur after it.
	OnError(err error)

	// OnComplete is the success-terminal callback.
	// No further callbacks occur after it.
	OnComplete()
}

// Subscription is the link between one [Publisher] and one [Subscriber].
// A Subscriber controls its delivery pace through its Subscription.
type Subscription interface {
	// ID is a unique identifier for this subscription,
	// suitable for correlating log events.
	ID() uuid.UUID

	// Request grants the publisher permission to deliver n more items.
	// n must be positive;
	// a non-positive n is a protocol violation
	// that terminates the stream with an [InvalidDemandError]
	// delivered through OnError.
	//
	// Demand accumulates and saturates rather than overflowing.
	// Request never blocks.
	Request(n int64)

	// Cancel stops delivery and releases the subscription's backlog.
	// It is idempotent and safe to call concurrently with delivery,
	// including from within a callback.
	// No callback, terminal or otherwise, is delivered after Cancel returns
	// beyond one already in flight.
	Cancel()
}

// SubscriberFuncs adapts plain functions to the [Subscriber] interface.
// Nil fields are ignored, except that a stream is only useful
// if Subscribe (or some other path) eventually requests demand.
//
// Subscribe with a pointer: *SubscriberFuncs is the comparable
// identity the publisher registry requires.
type SubscriberFuncs[T any] struct {
	Subscribe func(Subscription)
	Next      func(item T)
	Error     func(err error)
	Complete  func()
}

func (f *SubscriberFuncs[T]) OnSubscribe(s Subscription) {
	if f.Subscribe != nil {
		f.Subscribe(s)
	}
}

func (f *SubscriberFuncs[T]) OnNext(item T) {
	if f.Next != nil {
		f.Next(item)
	}
}

func (f *SubscriberFuncs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f *SubscriberFuncs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// LogSubscriber is a sink [Subscriber] that logs every callback
// through an injected logger.
// It requests a fixed demand quantum on subscribe
// and replenishes it after each received item.
type LogSubscriber[T any] struct {
	log *slog.Logger

	quantum int64

	sub Subscription
}

// NewLogSubscriber returns a LogSubscriber writing to log,
// requesting one item at a time.
func NewLogSubscriber[T any](log *slog.Logger) *LogSubscriber[T] {
	return &LogSubscriber[T]{log: log, quantum: 1}
}

func (l *LogSubscriber[T]) OnSubscribe(s Subscription) {
	l.sub = s
	l.log.Info("Subscribed", "subscription_id", s.ID())
	s.Request(l.quantum)
}

func (l *LogSubscriber[T]) OnNext(item T) {
	l.log.Info("Received item", "subscription_id", l.sub.ID(), "item", item)
	l.sub.Request(l.quantum)
}

func (l *LogSubscriber[T]) OnError(err error) {
	// OnError can arrive without a prior OnSubscribe,
	// e.g. when subscribing to an already closed publisher.
	if l.sub == nil {
		l.log.Error("Subscription rejected", "err", err)
		return
	}

	l.log.Error("Stream failed", "subscription_id", l.sub.ID(), "err", err)
}

func (l *LogSubscriber[T]) OnComplete() {
	l.log.Info("Stream completed", "subscription_id", l.sub.ID())
}
