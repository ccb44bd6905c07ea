// Package riptidetest contains fixtures to simplify tests
// of code built around riptide streams.
package riptidetest

import (
	"sync"

	"github.com/riptide-engine/riptide"
)

// RecordingSubscriber captures every callback it receives,
// for asserting on delivery counts, ordering, and terminal state.
//
// Demand behavior is configured up front:
// InitialDemand is requested during OnSubscribe
// and DemandPerItem after each OnNext.
// Zero for both produces a subscriber that never requests.
type RecordingSubscriber[T any] struct {
	InitialDemand int64
	DemandPerItem int64

	// NextHook, if set, runs inside OnNext after the item is recorded
	// and before more demand is requested.
	// Useful to gate or observe the pump goroutine mid-delivery.
	NextHook func(item T)

	mu        sync.Mutex
	sub       riptide.Subscription
	calls     []string
	items     []T
	err       error
	completed bool

	terminalOnce sync.Once
	terminal     chan struct{}
}

// NewRecordingSubscriber returns a recorder with the given demand policy.
// Subscribe the returned pointer itself; it is the registry identity.
func NewRecordingSubscriber[T any](initialDemand, demandPerItem int64) *RecordingSubscriber[T] {
	return &RecordingSubscriber[T]{
		InitialDemand: initialDemand,
		DemandPerItem: demandPerItem,

		terminal: make(chan struct{}),
	}
}

func (r *RecordingSubscriber[T]) OnSubscribe(s riptide.Subscription) {
	r.mu.Lock()
	r.sub = s
	r.calls = append(r.calls, "OnSubscribe")
	r.mu.Unlock()

	if r.InitialDemand > 0 {
		s.Request(r.InitialDemand)
	}
}

func (r *RecordingSubscriber[T]) OnNext(item T) {
	r.mu.Lock()
	r.calls = append(r.calls, "OnNext")
	r.items = append(r.items, item)
	sub := r.sub
	r.mu.Unlock()

	if r.NextHook != nil {
		r.NextHook(item)
	}

	if r.DemandPerItem > 0 {
		sub.Request(r.DemandPerItem)
	}
}

func (r *RecordingSubscriber[T]) OnError(err error) {
	r.mu.Lock()
	r.calls = append(r.calls, "OnError")
	r.err = err
	r.mu.Unlock()

	r.terminalOnce.Do(func() {
		close(r.terminal)
	})
}

func (r *RecordingSubscriber[T]) OnComplete() {
	r.mu.Lock()
	r.calls = append(r.calls, "OnComplete")
	r.completed = true
	r.mu.Unlock()

	r.terminalOnce.Do(func() {
		close(r.terminal)
	})
}

// Subscription returns the subscription received in OnSubscribe,
// or nil before that.
func (r *RecordingSubscriber[T]) Subscription() riptide.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub
}

// Items returns a copy of the items received so far, in delivery order.
func (r *RecordingSubscriber[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Calls returns a copy of the callback names in invocation order.
func (r *RecordingSubscriber[T]) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Err returns the error received via OnError, if any.
func (r *RecordingSubscriber[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Completed reports whether OnComplete has been received.
func (r *RecordingSubscriber[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Terminal is closed once the subscriber has received
// either terminal callback.
func (r *RecordingSubscriber[T]) Terminal() <-chan struct{} {
	return r.terminal
}
