package riptide_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/riptide-engine/riptide"
	"github.com/riptide-engine/riptide/internal/rtest"
	"github.com/riptide-engine/riptide/riptidetest"
	"github.com/stretchr/testify/require"
)

// A full pipeline: one publisher observed by two logging sinks and a
// message-length processor, whose derived stream feeds another sink
// plus a recorder for assertions.
func TestPipeline_endToEnd(t *testing.T) {
	t.Parallel()

	log := rtest.NewLogger(t)
	ctx := context.Background()

	source := riptide.NewPublisher[string](log, riptide.PublisherConfig{})

	source.Subscribe(riptide.NewLogSubscriber[string](log))
	source.Subscribe(riptide.NewLogSubscriber[string](log))

	lengths := riptide.NewProcessor(ctx, log, riptide.ProcessorConfig[string, int]{
		Transform: func(msg string) (int, error) {
			return len(msg), nil
		},
	})

	lengths.Subscribe(riptide.NewLogSubscriber[int](log))

	rec := riptidetest.NewRecordingSubscriber[int](1, 1)
	lengths.Subscribe(rec)

	source.Subscribe(lengths)

	const numberOfMessages = 10
	want := make([]int, 0, numberOfMessages)
	for i := 0; i < numberOfMessages; i++ {
		msg := fmt.Sprintf("Message Number %d", i)
		require.NoError(t, source.Submit(ctx, msg))
		want = append(want, len(msg))
	}

	source.Close()
	source.Wait()

	rtest.ReceiveSoon(t, rec.Terminal())
	require.Equal(t, want, rec.Items())
	require.True(t, rec.Completed())

	lengths.Wait()
}
