package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/surge/pkg/errors"
)

func TestTrackerReapStopsAtUnfinishedHead(t *testing.T) {
	tracker := NewTracker()
	release := make(chan struct{})

	tracker.Submit(func() error { <-release; return nil })
	tracker.Submit(func() error { return nil })
	tracker.Submit(func() error { return fmt.Errorf("boom") })

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, tracker.Reap(), "the oldest operation is still running")
	assert.Equal(t, 3, tracker.Pending())

	close(release)
	require.Eventually(t, func() bool {
		tracker.Reap()
		return tracker.Pending() == 0
	}, time.Second, time.Millisecond)

	assert.Equal(t, int64(3), tracker.Completed())
	assert.Equal(t, int64(1), tracker.Failed())
}

func TestTrackerAwaitOldest(t *testing.T) {
	tracker := NewTracker()
	require.NoError(t, tracker.AwaitOldest(context.Background()), "nothing to wait for")

	release := make(chan struct{})
	tracker.Submit(func() error { <-release; return fmt.Errorf("late failure") })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.AwaitOldest(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, tracker.Pending())

	close(release)
	require.NoError(t, tracker.AwaitOldest(context.Background()), "operation errors are counted, not returned")
	assert.Zero(t, tracker.Pending())
	assert.Equal(t, int64(1), tracker.Failed())
}

func TestTrackerDrain(t *testing.T) {
	tracker := NewTracker()
	for i := 0; i < 4; i++ {
		tracker.Submit(func() error {
			time.Sleep(time.Duration(4-i) * time.Millisecond)
			if i%2 == 1 {
				return fmt.Errorf("operation %d failed", i)
			}
			return nil
		})
	}

	err := tracker.Drain(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeShutdown))
	assert.Contains(t, err.Error(), "operation 1 failed")
	assert.Contains(t, err.Error(), "operation 3 failed")
	assert.Zero(t, tracker.Pending())
	assert.Equal(t, int64(2), tracker.Failed())

	assert.NoError(t, NewTracker().Drain(context.Background()))
}

func TestTrackerDrainTimeout(t *testing.T) {
	tracker := NewTracker()
	release := make(chan struct{})
	defer close(release)
	tracker.Submit(func() error { <-release; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tracker.Drain(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeShutdown))
	assert.Contains(t, err.Error(), "1 operations still in flight")
}
