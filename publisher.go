package riptide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultBufferCapacity is the per-subscription backlog capacity
// used when [PublisherConfig.BufferCapacity] is zero.
const DefaultBufferCapacity = 256

// OverflowPolicy selects how [Publisher.Submit] behaves
// when a subscription's backlog is full.
type OverflowPolicy int

const (
	// OverflowBlock blocks the submitter until backlog space frees,
	// bounded by [PublisherConfig.SubmitTimeout] if one is set
	// and by the Submit context either way.
	OverflowBlock OverflowPolicy = iota

	// OverflowFail makes Submit return a [BufferFullError] immediately.
	OverflowFail
)

// PublisherConfig is the configuration for a [Publisher].
// The zero value is usable: a default-capacity backlog
// with blocking overflow behavior and no submit timeout.
type PublisherConfig struct {
	// Backlog capacity per subscription.
	// If zero, DefaultBufferCapacity is used.
	BufferCapacity int

	// What Submit does when a backlog is full.
	Overflow OverflowPolicy

	// Upper bound on how long a blocked Submit waits for backlog space,
	// per subscription.
	// Zero means wait until the context is canceled.
	// Only meaningful with OverflowBlock.
	SubmitTimeout time.Duration
}

// validate panics if there are any illegal settings in the configuration.
func (c PublisherConfig) validate() {
	// If there are multiple reasons we could panic,
	// collect them all in one go
	// so we can give a maximally helpful error.
	var panicErrs error

	if c.BufferCapacity < 0 {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("PublisherConfig.BufferCapacity must not be negative"),
		)
	}

	if c.SubmitTimeout < 0 {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("PublisherConfig.SubmitTimeout must not be negative"),
		)
	}

	if c.Overflow != OverflowBlock && c.Overflow != OverflowFail {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("PublisherConfig.Overflow has unknown value %d", c.Overflow),
		)
	}

	if c.Overflow == OverflowFail && c.SubmitTimeout != 0 {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("PublisherConfig.SubmitTimeout has no effect with OverflowFail; leave it zero"),
		)
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	return c
}

// Publisher buffers submitted items and fans them out
// to any number of independently paced subscribers.
//
// Each subscription has its own bounded backlog and its own
// delivery goroutine, so a slow subscriber never delays a fast one;
// it only limits the producer once its backlog fills.
type Publisher[T any] struct {
	log *slog.Logger
	cfg PublisherConfig

	// Guards the registry and the closed flag.
	mu    sync.Mutex
	subs  []*subscription[T] // insertion order, defines fan-out order
	bySub map[Subscriber[T]]*subscription[T]

	closed bool

	// closeErr is written once before closedSignal is closed.
	// nil means a normal close.
	closeErr     error
	closedSignal chan struct{}

	// Serializes producers so every subscription
	// observes the same submission order.
	submitMu sync.Mutex

	wg sync.WaitGroup
}

// NewPublisher returns an open Publisher.
// A nil log discards all events.
func NewPublisher[T any](log *slog.Logger, cfg PublisherConfig) *Publisher[T] {
	cfg.validate()
	cfg = cfg.withDefaults()

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Publisher[T]{
		log: log,
		cfg: cfg,

		bySub: make(map[Subscriber[T]]*subscription[T]),

		closedSignal: make(chan struct{}),
	}
}

// Subscribe registers sub and synchronously invokes its OnSubscribe,
// so that sub can request demand before Subscribe returns.
// Delivery then happens on a goroutine dedicated to this subscription.
//
// Subscribing the same Subscriber value twice is a protocol violation:
// its existing subscription is terminated
// with a [DuplicateSubscriberError] through OnError.
// Subscribing to a closed publisher
// delivers OnError wrapping [ErrClosed] and nothing else.
func (p *Publisher[T]) Subscribe(sub Subscriber[T]) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		sub.OnError(fmt.Errorf("subscribe rejected: %w", ErrClosed))
		return
	}

	if existing, ok := p.bySub[sub]; ok {
		p.mu.Unlock()
		p.log.Warn("Rejecting duplicate subscription", "subscription_id", existing.id)
		existing.fail(DuplicateSubscriberError{ID: existing.id})
		return
	}

	s := newSubscription(p, sub)
	p.subs = append(p.subs, s)
	p.bySub[sub] = s
	p.wg.Add(1)
	p.mu.Unlock()

	s.log.Debug("Subscriber registered")

	// OnSubscribe runs before the pump starts,
	// which keeps it strictly ordered before any other callback.
	s.dispatchSubscribe()

	go s.pump()
}

// Submit enqueues item onto every live subscription's backlog
// for asynchronous delivery, honoring each subscription's demand.
//
// When a backlog is full Submit behaves per [OverflowPolicy]:
// it blocks (bounded by ctx and SubmitTimeout) or returns a
// [BufferFullError]. Either way no previously accepted item is dropped,
// and an error does not retract enqueues
// already made to other subscriptions for this item.
//
// After Close, Submit returns [ErrClosed].
func (p *Publisher[T]) Submit(ctx context.Context, item T) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	select {
	case <-p.closedSignal:
		return ErrClosed
	default:
	}

	p.mu.Lock()
	subs := slices.Clone(p.subs)
	p.mu.Unlock()

	for _, s := range subs {
		if err := s.offer(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

// Close stops the publisher from accepting submissions.
// Each subscription drains its backlog at its own pace
// and then receives exactly one OnComplete.
//
// A subscription whose backlog is non-empty and whose demand stays zero
// drains forever; it only finishes when its subscriber
// requests more or cancels.
//
// Close is idempotent and safe to call
// concurrently with in-flight Submit calls.
func (p *Publisher[T]) Close() {
	p.close(nil)
}

// CloseWithError is Close with a failure terminal:
// each subscription receives OnError(cause) after draining.
// A nil cause is replaced with [ErrClosed].
func (p *Publisher[T]) CloseWithError(cause error) {
	if cause == nil {
		cause = ErrClosed
	}
	p.close(cause)
}

func (p *Publisher[T]) close(cause error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	p.closeErr = cause
	close(p.closedSignal)
	p.mu.Unlock()

	if cause == nil {
		p.log.Debug("Publisher closed")
	} else {
		p.log.Debug("Publisher closed with error", "cause", cause)
	}
}

// Wait blocks until every subscription's delivery goroutine has exited,
// normally after Close (or after every subscriber canceled).
func (p *Publisher[T]) Wait() {
	p.wg.Wait()
}

// remove drops s from the registry; called by the pump on exit.
func (p *Publisher[T]) remove(s *subscription[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.bySub[s.sub]; ok && cur == s {
		delete(p.bySub, s.sub)
	}
	p.subs = slices.DeleteFunc(p.subs, func(o *subscription[T]) bool {
		return o == s
	})
}

// dispatchSubscribe invokes OnSubscribe with the same panic handling
// as the pump's dispatches: a panicking subscriber
// fails only its own subscription.
func (s *subscription[T]) dispatchSubscribe() {
	defer func() {
		if r := recover(); r != nil {
			s.fail(DeliveryPanicError{Recovered: r})
		}
	}()

	s.sub.OnSubscribe(s)
}
