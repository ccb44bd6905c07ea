package riptide

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// subscription pairs one [Subscriber] with one [Publisher].
// It owns the subscriber's demand counter and bounded backlog,
// and its pump goroutine is the only caller of the subscriber's
// callbacks, which is what serializes them.
type subscription[T any] struct {
	id  uuid.UUID
	log *slog.Logger

	p   *Publisher[T]
	sub Subscriber[T]

	// Outstanding demand.
	// Only the pump decrements; saturated demand stays saturated.
	demand atomic.Int64

	// Per-subscriber backlog of undelivered items.
	buf chan T

	// Capacity-1 signal that demand changed,
	// so the pump re-evaluates its enabled channels.
	wake chan struct{}

	cancelOnce sync.Once
	cancelled  chan struct{}

	// failErr is written once before failed is closed.
	failOnce sync.Once
	failErr  error
	failed   chan struct{}
}

func newSubscription[T any](p *Publisher[T], sub Subscriber[T]) *subscription[T] {
	id := uuid.New()
	return &subscription[T]{
		id:  id,
		log: p.log.With("subscription_id", id),

		p:   p,
		sub: sub,

		buf:  make(chan T, p.cfg.BufferCapacity),
		wake: make(chan struct{}, 1),

		cancelled: make(chan struct{}),
		failed:    make(chan struct{}),
	}
}

func (s *subscription[T]) ID() uuid.UUID {
	return s.id
}

func (s *subscription[T]) Request(n int64) {
	if n <= 0 {
		// Protocol violation.
		// Reported through the subscriber's own OnError,
		// never to the caller.
		s.fail(InvalidDemandError{N: n})
		return
	}

	s.addDemand(n)
	s.signalWake()
}

func (s *subscription[T]) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelled)
	})
}

// fail marks the subscription as terminating with err.
// The pump delivers the OnError, keeping callbacks serialized
// even when fail is called from within one.
func (s *subscription[T]) fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		close(s.failed)
	})
}

// addDemand adds n to the demand counter, saturating at the maximum
// rather than overflowing.
func (s *subscription[T]) addDemand(n int64) {
	for {
		cur := s.demand.Load()
		if cur == math.MaxInt64 {
			return
		}

		next := cur + n
		if next < cur {
			next = math.MaxInt64
		}

		if s.demand.CompareAndSwap(cur, next) {
			return
		}
	}
}

// consumeDemand spends one unit of demand for a delivery.
// Saturated demand is effectively unbounded and is not decremented.
func (s *subscription[T]) consumeDemand() {
	for {
		cur := s.demand.Load()
		if cur == math.MaxInt64 {
			return
		}

		if s.demand.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (s *subscription[T]) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// offer places item on the backlog on behalf of Submit.
// The caller holds the publisher's submit lock,
// so offers are totally ordered across subscriptions.
func (s *subscription[T]) offer(ctx context.Context, item T) error {
	select {
	case <-s.cancelled:
		return nil
	case <-s.failed:
		return nil
	default:
	}

	select {
	case s.buf <- item:
		return nil
	default:
	}

	if s.p.cfg.Overflow == OverflowFail {
		return BufferFullError{SubscriptionID: s.id}
	}

	var timeout <-chan time.Time
	start := time.Now()
	if s.p.cfg.SubmitTimeout > 0 {
		timer := time.NewTimer(s.p.cfg.SubmitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.buf <- item:
		return nil

	case <-s.cancelled:
		// The item is undeliverable but the stream is gone anyway.
		return nil
	case <-s.failed:
		return nil

	case <-s.p.closedSignal:
		return ErrClosed

	case <-ctx.Done():
		return ctx.Err()

	case <-timeout:
		return BufferFullError{SubscriptionID: s.id, Waited: time.Since(start)}
	}
}

// pump is the delivery loop: one goroutine per subscription.
// It exits on cancellation, on a terminal callback,
// or after draining the backlog of a closed publisher.
func (s *subscription[T]) pump() {
	defer s.p.wg.Done()
	defer s.p.remove(s)

	for {
		// Cancellation and failure take priority over a ready backlog;
		// the main select alone would pick among ready cases at random.
		select {
		case <-s.cancelled:
			return
		case <-s.failed:
			s.dispatchTerminal(s.failErr)
			return
		default:
		}

		// The backlog is only an enabled receive case
		// while there is outstanding demand.
		var in <-chan T
		if s.demand.Load() > 0 {
			in = s.buf
		}

		select {
		case <-s.cancelled:
			return

		case <-s.failed:
			s.dispatchTerminal(s.failErr)
			return

		case <-s.wake:
			// Demand changed; recompute the enabled cases.

		case item := <-in:
			s.consumeDemand()
			if err := s.dispatchNext(item); err != nil {
				s.log.Warn("Tearing down subscription after delivery failure", "err", err)
				s.dispatchTerminal(err)
				return
			}

		case <-s.p.closedSignal:
			s.drainClosed()
			return
		}
	}
}

// drainClosed runs after the publisher closed:
// deliver the remaining backlog as demand allows,
// then the terminal callback.
//
// With the publisher closed nothing is added to the backlog,
// so an observed empty backlog stays empty.
func (s *subscription[T]) drainClosed() {
	for {
		select {
		case <-s.cancelled:
			return
		case <-s.failed:
			s.dispatchTerminal(s.failErr)
			return
		default:
		}

		if len(s.buf) == 0 {
			s.dispatchTerminal(s.p.closeErr)
			return
		}

		var in <-chan T
		if s.demand.Load() > 0 {
			in = s.buf
		}

		select {
		case <-s.cancelled:
			return

		case <-s.failed:
			s.dispatchTerminal(s.failErr)
			return

		case <-s.wake:

		case item := <-in:
			s.consumeDemand()
			if err := s.dispatchNext(item); err != nil {
				s.log.Warn("Tearing down subscription after delivery failure", "err", err)
				s.dispatchTerminal(err)
				return
			}
		}
	}
}

// dispatchNext invokes the subscriber's OnNext,
// converting a panic into an error for the pump to route
// back to the same subscriber.
func (s *subscription[T]) dispatchNext(item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = DeliveryPanicError{Recovered: r}
		}
	}()

	s.sub.OnNext(item)
	return nil
}

// dispatchTerminal delivers OnComplete for a nil err, OnError otherwise.
// A panic out of a terminal callback has nowhere left to go,
// so it is only logged.
func (s *subscription[T]) dispatchTerminal(err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Subscriber panicked in terminal callback", "recovered", r)
		}
	}()

	if err == nil {
		s.sub.OnComplete()
		return
	}
	s.sub.OnError(err)
}
