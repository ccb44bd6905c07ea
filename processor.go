package riptide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Processor lifecycle states.
const (
	procUnsubscribed int32 = iota
	procRunning
	procCompleted
	procFailed
)

// ProcessorConfig is the configuration for a [Processor].
type ProcessorConfig[T, U any] struct {
	// Transform derives the downstream item from an upstream one.
	// A returned error terminates the processor
	// and propagates downstream as OnError.
	// Required.
	Transform func(item T) (U, error)

	// How much demand to request from upstream
	// after each fully processed item (and once on subscribe).
	// If zero, 1 is used, which bounds in-flight work
	// to a single item per processor.
	DemandQuantum int64

	// Configuration for the embedded downstream publisher.
	Publisher PublisherConfig
}

// validate panics if there are any illegal settings in the configuration.
func (c ProcessorConfig[T, U]) validate() {
	var panicErrs error

	if c.Transform == nil {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("ProcessorConfig.Transform may not be nil"),
		)
	}

	if c.DemandQuantum < 0 {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("ProcessorConfig.DemandQuantum must not be negative"),
		)
	}

	if panicErrs != nil {
		panic(panicErrs)
	}

	c.Publisher.validate()
}

// Processor is a stream stage that is simultaneously
// a [Subscriber] of an upstream stream
// and a [Publisher] of the derived downstream stream.
//
// With the default demand quantum of 1 it is self-throttling:
// it only requests the next upstream item
// after the derived item has been accepted downstream,
// so at most one item is in flight per processor
// and downstream observes items in transformation order.
type Processor[T, U any] struct {
	log *slog.Logger

	// Used for the internal submits onto the downstream publisher;
	// canceling it unblocks a processor
	// stalled on a saturated downstream backlog.
	ctx context.Context

	transform func(T) (U, error)
	quantum   int64

	out *Publisher[U]

	state atomic.Int32

	mu       sync.Mutex
	upstream Subscription
}

// NewProcessor returns a Processor ready to be subscribed
// to an upstream publisher.
// A nil log discards all events.
func NewProcessor[T, U any](
	ctx context.Context, log *slog.Logger, cfg ProcessorConfig[T, U],
) *Processor[T, U] {
	cfg.validate()

	quantum := cfg.DemandQuantum
	if quantum == 0 {
		quantum = 1
	}

	out := NewPublisher[U](log, cfg.Publisher)

	return &Processor[T, U]{
		log: out.log,

		ctx: ctx,

		transform: cfg.Transform,
		quantum:   quantum,

		out: out,
	}
}

// Subscribe attaches a downstream subscriber
// to the processor's derived stream.
func (p *Processor[T, U]) Subscribe(sub Subscriber[U]) {
	p.out.Subscribe(sub)
}

// OnSubscribe stores the upstream subscription
// and requests the initial demand quantum.
func (p *Processor[T, U]) OnSubscribe(s Subscription) {
	if !p.state.CompareAndSwap(procUnsubscribed, procRunning) {
		// Already bound to an upstream; a second one cannot be serviced.
		p.log.Warn("Canceling unexpected extra upstream subscription",
			"subscription_id", s.ID(),
		)
		s.Cancel()
		return
	}

	p.mu.Lock()
	p.upstream = s
	p.mu.Unlock()

	p.log.Debug("Subscribed upstream", "subscription_id", s.ID())

	s.Request(p.quantum)
}

// OnNext transforms the upstream item,
// submits the derived item downstream,
// and only then replenishes upstream demand.
// That ordering is what bounds in-flight work;
// requesting before submitting would allow the next upstream delivery
// to race with the current downstream submit.
func (p *Processor[T, U]) OnNext(item T) {
	if p.state.Load() != procRunning {
		return
	}

	derived, err := p.transform(item)
	if err != nil {
		p.fail(fmt.Errorf("transform failed: %w", err))
		return
	}

	if err := p.out.Submit(p.ctx, derived); err != nil {
		p.fail(fmt.Errorf("failed to submit derived item: %w", err))
		return
	}

	p.mu.Lock()
	up := p.upstream
	p.mu.Unlock()
	up.Request(p.quantum)
}

// OnError propagates the upstream failure to every downstream subscriber.
//
// A terminal can arrive before OnSubscribe ever does —
// subscribing to an already closed publisher delivers only OnError —
// so this must work from the unsubscribed state too.
func (p *Processor[T, U]) OnError(err error) {
	if !p.terminate(procFailed) {
		return
	}

	p.out.CloseWithError(err)
}

// OnComplete propagates normal upstream completion downstream.
func (p *Processor[T, U]) OnComplete() {
	if !p.terminate(procCompleted) {
		return
	}

	p.out.Close()
}

// Close tears the processor down from the owner's side:
// the upstream subscription is canceled
// and the downstream stream completes normally.
// Safe to call at any point in the lifecycle; idempotent.
func (p *Processor[T, U]) Close() {
	if !p.terminate(procCompleted) {
		return
	}

	p.cancelUpstream()
	p.out.Close()
}

// Wait blocks until every downstream delivery goroutine has exited;
// see [Publisher.Wait].
func (p *Processor[T, U]) Wait() {
	p.out.Wait()
}

// terminate moves the processor into final
// from whatever non-terminal state it is in.
// It reports false if a terminal state was already reached,
// in which case the caller must not touch the downstream publisher again.
func (p *Processor[T, U]) terminate(final int32) bool {
	for {
		st := p.state.Load()
		if st == procCompleted || st == procFailed {
			return false
		}
		if p.state.CompareAndSwap(st, final) {
			return true
		}
	}
}

// fail terminates the processor:
// cancel upstream so no further items arrive,
// then fail the downstream stream.
func (p *Processor[T, U]) fail(err error) {
	if !p.state.CompareAndSwap(procRunning, procFailed) {
		return
	}

	p.log.Error("Processor failed", "err", err)

	p.cancelUpstream()
	p.out.CloseWithError(err)
}

func (p *Processor[T, U]) cancelUpstream() {
	p.mu.Lock()
	up := p.upstream
	p.mu.Unlock()

	if up != nil {
		up.Cancel()
	}
}
