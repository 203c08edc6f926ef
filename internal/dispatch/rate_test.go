package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRateDelayWithinNegligibleThreshold(t *testing.T) {
	fake := clocktesting.NewFakeClock(epoch)
	rc := NewRateController(600, time.Minute, fake, nil)

	// one unit is due 100ms into the period
	rc.Add(1)
	assert.Zero(t, rc.Delay(epoch), "100ms is not worth sleeping")

	rc.Add(1)
	assert.Equal(t, 200*time.Millisecond, rc.Delay(epoch))
	assert.Zero(t, rc.Delay(epoch.Add(150*time.Millisecond)))
}

func TestRateDelayBehindTarget(t *testing.T) {
	fake := clocktesting.NewFakeClock(epoch)
	rc := NewRateController(60, time.Minute, fake, nil)

	rc.Add(10)
	assert.Zero(t, rc.Delay(epoch.Add(20*time.Second)), "behind the target, no waiting")
	assert.InDelta(t, 10, rc.Lag(epoch.Add(20*time.Second)), 1e-9)
}

func TestRateConvergesOverPeriod(t *testing.T) {
	tests := []struct {
		name    string
		target  float64
		batch   float64
		produce time.Duration
	}{
		{"small batches", 600, 10, 10 * time.Millisecond},
		{"single records", 120, 1, time.Millisecond},
		{"large batches", 10000, 337, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var periods []Period
			fake := clocktesting.NewFakeClock(epoch)
			rc := NewRateController(tt.target, time.Minute, fake, func(p Period) {
				periods = append(periods, p)
			})

			now := epoch
			for len(periods) < 3 {
				for d := rc.Delay(now); d > 0; d = rc.Delay(now) {
					now = now.Add(d)
				}
				now = now.Add(tt.produce)
				rc.Add(tt.batch)
			}

			for i, p := range periods {
				assert.Equal(t, epoch.Add(time.Duration(i)*time.Minute), p.Start, "periods advance by exactly one period")
				assert.InEpsilon(t, tt.target, p.Produced, 0.05, "period %d produced %.0f", i, p.Produced)
			}
		})
	}
}

func TestRateUnthrottledStillRollsOver(t *testing.T) {
	var periods []Period
	fake := clocktesting.NewFakeClock(epoch)
	rc := NewRateController(0, time.Minute, fake, func(p Period) {
		periods = append(periods, p)
	})

	rc.Add(1e6)
	assert.Zero(t, rc.Delay(epoch.Add(30*time.Second)))
	assert.Empty(t, periods)

	assert.Zero(t, rc.Delay(epoch.Add(2*time.Minute+time.Second)))
	require.Len(t, periods, 2)
	assert.Equal(t, 1e6, periods[0].Produced)
	assert.Equal(t, 0.0, periods[1].Produced)
	assert.Equal(t, epoch.Add(2*time.Minute), rc.PeriodStart())
}

func TestRateWaitUsesClock(t *testing.T) {
	fake := clocktesting.NewFakeClock(epoch)
	rc := NewRateController(60, time.Minute, fake, nil)
	rc.Add(30)

	done := make(chan error, 1)
	go func() { done <- rc.Wait(context.Background()) }()

	require.Eventually(t, fake.HasWaiters, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("wait returned before the clock advanced")
	default:
	}

	fake.Step(30 * time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the clock advanced")
	}
}

func TestRateWaitCancelled(t *testing.T) {
	fake := clocktesting.NewFakeClock(epoch)
	rc := NewRateController(60, time.Minute, fake, nil)
	rc.Add(30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rc.Wait(ctx) }()

	require.Eventually(t, fake.HasWaiters, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait ignored cancellation")
	}
}
