package riptide_test

import (
	"context"
	"errors"
	"testing"

	"github.com/riptide-engine/riptide"
	"github.com/riptide-engine/riptide/internal/rtest"
	"github.com/riptide-engine/riptide/riptidetest"
	"github.com/stretchr/testify/require"
)

func TestProcessor_transformOrdering(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	up := riptide.NewPublisher[int](log, riptide.PublisherConfig{})

	proc := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{
		Transform: func(x int) (int, error) {
			return x * x, nil
		},
	})

	rec := riptidetest.NewRecordingSubscriber[int](100, 0)
	proc.Subscribe(rec)
	up.Subscribe(proc)

	for _, x := range []int{1, 2, 3} {
		require.NoError(t, up.Submit(ctx, x))
	}

	up.Close()
	up.Wait()

	rtest.ReceiveSoon(t, rec.Terminal())
	require.Equal(t, []int{1, 4, 9}, rec.Items())
	require.True(t, rec.Completed())

	proc.Wait()
}

func TestProcessor_singleItemInFlight(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := riptide.NewPublisher[int](log, riptide.PublisherConfig{})

	transformed := make(chan int, 16)
	proc := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{
		Transform: func(x int) (int, error) {
			transformed <- x
			return x * x, nil
		},
		// A tiny downstream backlog, so the processor's submit
		// blocks as soon as the downstream subscriber lags.
		Publisher: riptide.PublisherConfig{BufferCapacity: 1},
	})

	// Downstream grants no demand until told to.
	rec := riptidetest.NewRecordingSubscriber[int](0, 0)
	proc.Subscribe(rec)
	up.Subscribe(proc)

	for x := 1; x <= 5; x++ {
		require.NoError(t, up.Submit(ctx, x))
	}

	// Item 1 transforms and buffers downstream;
	// item 2 transforms and its submit blocks on the full backlog.
	require.Equal(t, 1, rtest.ReceiveSoon(t, transformed))
	require.Equal(t, 2, rtest.ReceiveSoon(t, transformed))

	// Until downstream consumes, the processor cannot finish item 2,
	// so it never requests item 3: transforming it is impossible.
	rtest.NotSending(t, transformed)

	// Draining one downstream item unblocks exactly one more transform.
	rec.Subscription().Request(1)
	require.Equal(t, 3, rtest.ReceiveSoon(t, transformed))
	rtest.NotSending(t, transformed)

	// Unblock the stalled submit so everything can tear down.
	// The recorder still has a buffered item,
	// so grant demand to let it drain through to the terminal.
	cancel()
	rec.Subscription().Request(100)
	rtest.ReceiveSoon(t, rec.Terminal())

	up.Close()
	up.Wait()
	proc.Wait()
}

func TestProcessor_transformErrorPropagates(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	up := riptide.NewPublisher[int](log, riptide.PublisherConfig{})

	cause := errors.New("item rejected")
	proc := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{
		Transform: func(x int) (int, error) {
			if x == 2 {
				return 0, cause
			}
			return x * x, nil
		},
	})

	rec := riptidetest.NewRecordingSubscriber[int](100, 0)
	proc.Subscribe(rec)
	up.Subscribe(proc)

	for _, x := range []int{1, 2, 3} {
		require.NoError(t, up.Submit(ctx, x))
	}

	rtest.ReceiveSoon(t, rec.Terminal())

	// Downstream saw the item before the failure and then the error;
	// nothing derived from item 3 ever arrives.
	require.Equal(t, []int{1}, rec.Items())
	require.ErrorIs(t, rec.Err(), cause)
	require.False(t, rec.Completed())

	// The failed processor canceled its upstream subscription.
	up.Close()
	up.Wait()
	proc.Wait()
}

func TestProcessor_upstreamErrorPropagates(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	up := riptide.NewPublisher[string](log, riptide.PublisherConfig{})

	proc := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[string, int]{
		Transform: func(s string) (int, error) {
			return len(s), nil
		},
	})

	rec := riptidetest.NewRecordingSubscriber[int](100, 0)
	proc.Subscribe(rec)
	up.Subscribe(proc)

	require.NoError(t, up.Submit(ctx, "one"))

	cause := errors.New("source exploded")
	up.CloseWithError(cause)

	rtest.ReceiveSoon(t, rec.Terminal())
	require.Equal(t, []int{3}, rec.Items())
	require.ErrorIs(t, rec.Err(), cause)

	up.Wait()
	proc.Wait()
}

func TestProcessor_subscribeToClosedUpstream(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	up := riptide.NewPublisher[int](log, riptide.PublisherConfig{})
	up.Close()
	up.Wait()

	proc := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{
		Transform: func(x int) (int, error) {
			return x * x, nil
		},
	})

	rec := riptidetest.NewRecordingSubscriber[int](100, 0)
	proc.Subscribe(rec)

	// The closed publisher rejects the processor with OnError
	// before any OnSubscribe; that terminal must still
	// chain through to the downstream subscribers.
	up.Subscribe(proc)

	rtest.ReceiveSoon(t, rec.Terminal())
	require.ErrorIs(t, rec.Err(), riptide.ErrClosed)
	require.False(t, rec.Completed())

	proc.Wait()
}

func TestProcessor_demandQuantum(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	up := riptide.NewPublisher[int](log, riptide.PublisherConfig{})

	proc := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{
		Transform: func(x int) (int, error) {
			return x + 10, nil
		},
		DemandQuantum: 3,
	})

	rec := riptidetest.NewRecordingSubscriber[int](100, 0)
	proc.Subscribe(rec)
	up.Subscribe(proc)

	want := make([]int, 0, 7)
	for x := 0; x < 7; x++ {
		require.NoError(t, up.Submit(ctx, x))
		want = append(want, x+10)
	}

	up.Close()
	up.Wait()

	rtest.ReceiveSoon(t, rec.Terminal())
	require.Equal(t, want, rec.Items())

	proc.Wait()
}

func TestProcessor_ownerClose(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	up := riptide.NewPublisher[int](log, riptide.PublisherConfig{})

	proc := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{
		Transform: func(x int) (int, error) {
			return x, nil
		},
	})

	rec := riptidetest.NewRecordingSubscriber[int](100, 0)
	proc.Subscribe(rec)
	up.Subscribe(proc)

	proc.Close()
	proc.Close()

	rtest.ReceiveSoon(t, rec.Terminal())
	require.True(t, rec.Completed())
	proc.Wait()

	// The upstream subscription was canceled, so the upstream
	// publisher has no live subscriptions left.
	up.Wait()
	up.Close()
}

func TestProcessorConfig_validate(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	require.Panics(t, func() {
		riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{})
	})

	require.Panics(t, func() {
		riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[int, int]{
			Transform:     func(x int) (int, error) { return x, nil },
			DemandQuantum: -1,
		})
	})
}
